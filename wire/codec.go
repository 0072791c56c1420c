// Package wire implements the narrow slice of RFC 1035 this resolver needs:
// building A/AAAA/NS/CNAME queries and parsing the matching responses. It
// does not aim for general-purpose DNS message handling — see spec.md and
// DESIGN.md for why this is hand-rolled rather than built on
// github.com/miekg/dns.
package wire

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"net"
	"strings"
)

// Type is a DNS resource record type, restricted to the subset this
// resolver speaks.
type Type uint16

const (
	TypeA     Type = 1
	TypeNS    Type = 2
	TypeCNAME Type = 5
	TypeAAAA  Type = 28
)

const classINET = 1

const headerLen = 12

const maxLabelLen = 63

// maxJumps bounds the number of compression-pointer hops a name decode may
// follow, preventing pointer-loop DoS.
const maxJumps = 10

// BuildQuery encodes a standard (RD=1) query for name/qtype, class IN. It
// returns ErrLabelTooLong if a label in name exceeds 63 bytes.
func BuildQuery(name string, qtype Type) ([]byte, error) {
	msg := make([]byte, 0, 512)

	var idBuf [2]byte
	if _, err := rand.Read(idBuf[:]); err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	msg = append(msg, idBuf[0], idBuf[1])

	msg = append(msg, 0x01, 0x00) // flags: RD=1
	msg = append(msg, 0x00, 0x01) // qdcount=1
	msg = append(msg, 0x00, 0x00) // ancount=0
	msg = append(msg, 0x00, 0x00) // nscount=0
	msg = append(msg, 0x00, 0x00) // arcount=0

	encoded, err := encodeName(name)
	if err != nil {
		return nil, err
	}
	msg = append(msg, encoded...)

	msg = append(msg, byte(qtype>>8), byte(qtype&0xFF))
	msg = append(msg, 0x00, classINET)

	return msg, nil
}

func encodeName(name string) ([]byte, error) {
	if name == "" {
		return []byte{0}, nil
	}

	name = strings.TrimSuffix(name, ".")

	var out []byte
	for _, label := range strings.Split(name, ".") {
		if len(label) > maxLabelLen {
			return nil, ErrLabelTooLong
		}
		out = append(out, byte(len(label)))
		out = append(out, label...)
	}
	out = append(out, 0)

	return out, nil
}

// ParseResponse validates the header and RCODE of data, then collects the
// string value of every answer-section record matching want: domain names
// for NS/CNAME, dotted-quad for A, and the canonical text form for AAAA.
// It returns ErrNoMatch if no such record was found.
func ParseResponse(data []byte, want Type) ([]string, error) {
	hdr, offset, err := parseHeaderAndQuestions(data)
	if err != nil {
		return nil, err
	}

	var results []string

	for i := uint16(0); i < hdr.ancount; i++ {
		if offset+10 > len(data) {
			return nil, ErrTruncated
		}

		if _, next, err := decodeName(data, offset); err == nil {
			offset = next
		} else {
			return nil, err
		}

		if offset+10 > len(data) {
			return nil, ErrTruncated
		}

		atype := Type(binary.BigEndian.Uint16(data[offset:]))
		offset += 8 // type(2) + class(2) + ttl(4)
		rdlength := int(binary.BigEndian.Uint16(data[offset:]))
		offset += 2

		if offset+rdlength > len(data) {
			return nil, ErrTruncated
		}

		if atype == want {
			switch want {
			case TypeNS, TypeCNAME:
				if name, _, err := decodeName(data, offset); err == nil {
					results = append(results, name)
				}
			case TypeA:
				if rdlength == 4 {
					results = append(results, net.IP(data[offset:offset+4]).String())
				}
			case TypeAAAA:
				if rdlength == 16 {
					results = append(results, net.IP(data[offset:offset+16]).String())
				}
			}
		}

		offset += rdlength
	}

	if len(results) == 0 {
		return nil, ErrNoMatch
	}

	return results, nil
}

// ParseAddressRecords parses the answer section of data into a RecordSet,
// keeping only A and/or AAAA records permitted by family, in response
// order.
func ParseAddressRecords(data []byte, family IPVersion) (RecordSet, error) {
	hdr, offset, err := parseHeaderAndQuestions(data)
	if err != nil {
		return RecordSet{}, err
	}

	var records []Record

	for i := uint16(0); i < hdr.ancount; i++ {
		if offset+10 > len(data) {
			break
		}

		_, next, err := decodeName(data, offset)
		if err != nil {
			break
		}
		offset = next

		if offset+10 > len(data) {
			break
		}

		atype := Type(binary.BigEndian.Uint16(data[offset:]))
		offset += 8
		rdlength := int(binary.BigEndian.Uint16(data[offset:]))
		offset += 2

		if offset+rdlength > len(data) {
			break
		}

		switch {
		case atype == TypeA && rdlength == 4 && family.AcceptsV4():
			ip := net.IP(append([]byte(nil), data[offset:offset+4]...))
			records = append(records, Record{Family: V4, Addr: ip, IP: ip.String()})
		case atype == TypeAAAA && rdlength == 16 && family.AcceptsV6():
			ip := net.IP(append([]byte(nil), data[offset:offset+16]...))
			records = append(records, Record{Family: V6, Addr: ip, IP: ip.String()})
		}

		offset += rdlength
	}

	set, ok := NewRecordSet(records)
	if !ok {
		return RecordSet{}, ErrNoMatch
	}

	return set, nil
}

type header struct {
	flags   uint16
	qdcount uint16
	ancount uint16
}

// parseHeaderAndQuestions validates the header, checks RCODE, and advances
// past the question section, returning the offset of the answer section.
func parseHeaderAndQuestions(data []byte) (header, int, error) {
	if len(data) < headerLen {
		return header{}, 0, ErrShortMessage
	}

	hdr := header{
		flags:   binary.BigEndian.Uint16(data[2:4]),
		qdcount: binary.BigEndian.Uint16(data[4:6]),
		ancount: binary.BigEndian.Uint16(data[6:8]),
	}

	if hdr.flags&0x000F != 0 {
		return header{}, 0, ErrBadRcode
	}

	offset := headerLen

	for i := uint16(0); i < hdr.qdcount; i++ {
		_, next, err := decodeName(data, offset)
		if err != nil {
			return header{}, 0, err
		}
		offset = next + 4 // qtype(2) + qclass(2)
		if offset > len(data) {
			return header{}, 0, ErrTruncated
		}
	}

	return hdr, offset, nil
}

// decodeName decodes the domain name starting at offset, following
// compression pointers up to maxJumps hops. It returns the name (labels
// joined by '.', root encoded as "") and the offset immediately following
// the name as it appears at the call site (i.e. after the first pointer
// if one was followed, not after the pointer's target).
func decodeName(data []byte, offset int) (string, int, error) {
	var labels []string

	pos := offset
	jumped := false
	jumps := 0
	endOffset := -1

	for {
		if pos >= len(data) {
			return "", 0, ErrTruncated
		}

		labelLen := int(data[pos])

		if labelLen == 0 {
			if !jumped {
				endOffset = pos + 1
			}
			break
		}

		if labelLen&0xC0 == 0xC0 {
			if pos+1 >= len(data) {
				return "", 0, ErrBadPointer
			}
			if !jumped {
				endOffset = pos + 2
			}
			if jumps >= maxJumps {
				return "", 0, ErrBadPointer
			}
			jumps++

			target := (labelLen&0x3F)<<8 | int(data[pos+1])
			if target > pos {
				return "", 0, ErrBadPointer
			}
			pos = target
			jumped = true
			continue
		}

		pos++
		if pos+labelLen > len(data) {
			return "", 0, ErrTruncated
		}

		labels = append(labels, string(data[pos:pos+labelLen]))
		pos += labelLen
	}

	if !jumped {
		endOffset = pos + 1
	}

	return strings.Join(labels, "."), endOffset, nil
}
