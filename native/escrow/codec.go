package escrow

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Account discriminators. Every stored account begins with one of these bytes;
// decoding a record under the wrong discriminator is a hard error.
const (
	DiscriminatorEscrow          byte = 0x01
	DiscriminatorTokenEscrow     byte = 0x02
	DiscriminatorMilestoneEscrow byte = 0x03
)

type codecWriter struct {
	buf bytes.Buffer
}

func (w *codecWriter) byte1(v byte)     { w.buf.WriteByte(v) }
func (w *codecWriter) bytesN(v []byte)  { w.buf.Write(v) }
func (w *codecWriter) uint16LE(v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	w.buf.Write(b[:])
}
func (w *codecWriter) uint64LE(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	w.buf.Write(b[:])
}
func (w *codecWriter) int64LE(v int64) { w.uint64LE(uint64(v)) }

type codecReader struct {
	data []byte
	off  int
}

func (r *codecReader) remaining() int { return len(r.data) - r.off }

func (r *codecReader) byte1() (byte, error) {
	if r.remaining() < 1 {
		return 0, fmt.Errorf("escrow codec: truncated record")
	}
	v := r.data[r.off]
	r.off++
	return v, nil
}

func (r *codecReader) bytesN(n int) ([]byte, error) {
	if r.remaining() < n {
		return nil, fmt.Errorf("escrow codec: truncated record")
	}
	v := r.data[r.off : r.off+n]
	r.off += n
	return v, nil
}

func (r *codecReader) uint16LE() (uint16, error) {
	b, err := r.bytesN(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *codecReader) uint64LE() (uint64, error) {
	b, err := r.bytesN(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (r *codecReader) int64LE() (int64, error) {
	v, err := r.uint64LE()
	return int64(v), err
}

// EncodeEscrow serialises a single-payout escrow account: a one-byte
// discriminator selected by kind, then the fields in declaration order,
// integers little-endian.
func EncodeEscrow(e *Escrow) ([]byte, error) {
	if err := e.Sanitize(); err != nil {
		return nil, err
	}
	w := &codecWriter{}
	switch e.Kind {
	case KindNative:
		w.byte1(DiscriminatorEscrow)
	case KindToken:
		w.byte1(DiscriminatorTokenEscrow)
	}
	w.bytesN(e.Address[:])
	w.byte1(e.Bump)
	w.bytesN(e.Creator[:])
	w.bytesN(e.Recipient[:])
	if e.Kind == KindToken {
		w.bytesN(e.Mint[:])
		w.bytesN(e.Vault[:])
		w.byte1(e.VaultBump)
	}
	w.uint64LE(e.Amount)
	w.byte1(byte(e.Status))
	w.int64LE(e.Deadline)
	w.bytesN(e.TermsHash[:])
	w.bytesN(e.Arbiter[:])
	w.uint16LE(e.FeeBasisPoints)
	w.bytesN(e.FeeRecipient[:])
	w.int64LE(e.CreatedAt)
	w.uint64LE(e.EscrowID)
	w.bytesN(e.DisputeReason[:])
	w.int64LE(e.AutoReleaseAt)
	return w.buf.Bytes(), nil
}

// DecodeEscrow deserialises a single-payout escrow account.
func DecodeEscrow(data []byte) (*Escrow, error) {
	r := &codecReader{data: data}
	disc, err := r.byte1()
	if err != nil {
		return nil, err
	}
	e := &Escrow{}
	switch disc {
	case DiscriminatorEscrow:
		e.Kind = KindNative
	case DiscriminatorTokenEscrow:
		e.Kind = KindToken
	default:
		return nil, fmt.Errorf("escrow codec: unexpected discriminator 0x%02x", disc)
	}
	if err := readAddr(r, &e.Address); err != nil {
		return nil, err
	}
	if e.Bump, err = r.byte1(); err != nil {
		return nil, err
	}
	if err := readAddr(r, &e.Creator); err != nil {
		return nil, err
	}
	if err := readAddr(r, &e.Recipient); err != nil {
		return nil, err
	}
	if e.Kind == KindToken {
		if err := readAddr(r, &e.Mint); err != nil {
			return nil, err
		}
		if err := readAddr(r, &e.Vault); err != nil {
			return nil, err
		}
		if e.VaultBump, err = r.byte1(); err != nil {
			return nil, err
		}
	}
	if e.Amount, err = r.uint64LE(); err != nil {
		return nil, err
	}
	status, err := r.byte1()
	if err != nil {
		return nil, err
	}
	e.Status = Status(status)
	if e.Deadline, err = r.int64LE(); err != nil {
		return nil, err
	}
	if err := readHash(r, &e.TermsHash); err != nil {
		return nil, err
	}
	if err := readAddr(r, &e.Arbiter); err != nil {
		return nil, err
	}
	if e.FeeBasisPoints, err = r.uint16LE(); err != nil {
		return nil, err
	}
	if err := readAddr(r, &e.FeeRecipient); err != nil {
		return nil, err
	}
	if e.CreatedAt, err = r.int64LE(); err != nil {
		return nil, err
	}
	if e.EscrowID, err = r.uint64LE(); err != nil {
		return nil, err
	}
	reason, err := r.bytesN(DisputeReasonSize)
	if err != nil {
		return nil, err
	}
	copy(e.DisputeReason[:], reason)
	if e.AutoReleaseAt, err = r.int64LE(); err != nil {
		return nil, err
	}
	if r.remaining() != 0 {
		return nil, fmt.Errorf("escrow codec: %d trailing bytes", r.remaining())
	}
	if err := e.Sanitize(); err != nil {
		return nil, err
	}
	return e, nil
}

// EncodeMilestoneEscrow serialises a milestone escrow account.
func EncodeMilestoneEscrow(m *MilestoneEscrow) ([]byte, error) {
	if err := m.Sanitize(); err != nil {
		return nil, err
	}
	w := &codecWriter{}
	w.byte1(DiscriminatorMilestoneEscrow)
	w.bytesN(m.Address[:])
	w.byte1(m.Bump)
	w.bytesN(m.Creator[:])
	w.bytesN(m.Recipient[:])
	w.uint64LE(m.TotalAmount)
	w.uint64LE(m.ReleasedAmount)
	w.byte1(byte(m.Status))
	w.int64LE(m.Deadline)
	w.bytesN(m.TermsHash[:])
	w.bytesN(m.Arbiter[:])
	w.uint16LE(m.FeeBasisPoints)
	w.bytesN(m.FeeRecipient[:])
	w.int64LE(m.CreatedAt)
	w.uint64LE(m.EscrowID)
	w.byte1(byte(len(m.Milestones)))
	for i := range m.Milestones {
		w.uint64LE(m.Milestones[i].Amount)
		w.byte1(byte(m.Milestones[i].Status))
		w.bytesN(m.Milestones[i].DescriptionHash[:])
	}
	return w.buf.Bytes(), nil
}

// DecodeMilestoneEscrow deserialises a milestone escrow account.
func DecodeMilestoneEscrow(data []byte) (*MilestoneEscrow, error) {
	r := &codecReader{data: data}
	disc, err := r.byte1()
	if err != nil {
		return nil, err
	}
	if disc != DiscriminatorMilestoneEscrow {
		return nil, fmt.Errorf("escrow codec: unexpected discriminator 0x%02x", disc)
	}
	m := &MilestoneEscrow{}
	if err := readAddr(r, &m.Address); err != nil {
		return nil, err
	}
	if m.Bump, err = r.byte1(); err != nil {
		return nil, err
	}
	if err := readAddr(r, &m.Creator); err != nil {
		return nil, err
	}
	if err := readAddr(r, &m.Recipient); err != nil {
		return nil, err
	}
	if m.TotalAmount, err = r.uint64LE(); err != nil {
		return nil, err
	}
	if m.ReleasedAmount, err = r.uint64LE(); err != nil {
		return nil, err
	}
	status, err := r.byte1()
	if err != nil {
		return nil, err
	}
	m.Status = Status(status)
	if m.Deadline, err = r.int64LE(); err != nil {
		return nil, err
	}
	if err := readHash(r, &m.TermsHash); err != nil {
		return nil, err
	}
	if err := readAddr(r, &m.Arbiter); err != nil {
		return nil, err
	}
	if m.FeeBasisPoints, err = r.uint16LE(); err != nil {
		return nil, err
	}
	if err := readAddr(r, &m.FeeRecipient); err != nil {
		return nil, err
	}
	if m.CreatedAt, err = r.int64LE(); err != nil {
		return nil, err
	}
	if m.EscrowID, err = r.uint64LE(); err != nil {
		return nil, err
	}
	count, err := r.byte1()
	if err != nil {
		return nil, err
	}
	if count == 0 || count > MaxMilestones {
		return nil, ErrTooManyMilestones
	}
	m.Milestones = make([]Milestone, count)
	for i := range m.Milestones {
		if m.Milestones[i].Amount, err = r.uint64LE(); err != nil {
			return nil, err
		}
		msStatus, err := r.byte1()
		if err != nil {
			return nil, err
		}
		m.Milestones[i].Status = MilestoneStatus(msStatus)
		if err := readHash(r, &m.Milestones[i].DescriptionHash); err != nil {
			return nil, err
		}
	}
	if r.remaining() != 0 {
		return nil, fmt.Errorf("escrow codec: %d trailing bytes", r.remaining())
	}
	if err := m.Sanitize(); err != nil {
		return nil, err
	}
	return m, nil
}

func readAddr(r *codecReader, out *[20]byte) error {
	b, err := r.bytesN(20)
	if err != nil {
		return err
	}
	copy(out[:], b)
	return nil
}

func readHash(r *codecReader, out *[32]byte) error {
	b, err := r.bytesN(32)
	if err != nil {
		return err
	}
	copy(out[:], b)
	return nil
}
