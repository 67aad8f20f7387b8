package reputation

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// DiscriminatorReputation tags stored reputation accounts. It shares the
// account discriminator space with the escrow account codecs.
const DiscriminatorReputation byte = 0x04

const encodedSize = 1 + 20 + 1 + 20 + 4*7 + 8 + 8

// Encode serialises a reputation account: discriminator, then fields in
// declaration order, integers little-endian.
func Encode(r *Reputation) ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("reputation codec: nil record")
	}
	buf := bytes.NewBuffer(make([]byte, 0, encodedSize))
	buf.WriteByte(DiscriminatorReputation)
	buf.Write(r.Address[:])
	buf.WriteByte(r.Bump)
	buf.Write(r.Agent[:])
	var scratch [8]byte
	for _, counter := range []uint32{
		r.EscrowsCreated, r.EscrowsCompleted, r.EscrowsReceived, r.TasksCompleted,
		r.DisputesInitiated, r.DisputesWon, r.DisputesLost,
	} {
		binary.LittleEndian.PutUint32(scratch[:4], counter)
		buf.Write(scratch[:4])
	}
	binary.LittleEndian.PutUint64(scratch[:], r.TotalVolume)
	buf.Write(scratch[:])
	binary.LittleEndian.PutUint64(scratch[:], uint64(r.LastActivity))
	buf.Write(scratch[:])
	return buf.Bytes(), nil
}

// Decode deserialises a reputation account.
func Decode(data []byte) (*Reputation, error) {
	if len(data) != encodedSize {
		return nil, fmt.Errorf("reputation codec: record is %d bytes, want %d", len(data), encodedSize)
	}
	if data[0] != DiscriminatorReputation {
		return nil, fmt.Errorf("reputation codec: unexpected discriminator 0x%02x", data[0])
	}
	r := &Reputation{}
	off := 1
	copy(r.Address[:], data[off:off+20])
	off += 20
	r.Bump = data[off]
	off++
	copy(r.Agent[:], data[off:off+20])
	off += 20
	counters := []*uint32{
		&r.EscrowsCreated, &r.EscrowsCompleted, &r.EscrowsReceived, &r.TasksCompleted,
		&r.DisputesInitiated, &r.DisputesWon, &r.DisputesLost,
	}
	for _, counter := range counters {
		*counter = binary.LittleEndian.Uint32(data[off : off+4])
		off += 4
	}
	r.TotalVolume = binary.LittleEndian.Uint64(data[off : off+8])
	off += 8
	r.LastActivity = int64(binary.LittleEndian.Uint64(data[off : off+8]))
	return r, nil
}
