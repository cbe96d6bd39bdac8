package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"math"
)

const sessionFormatVersion = 1

// Layout: version byte, then loginTime, lastActiveTime and expiresAt as
// big-endian int64 at fixed offsets 1, 9 and 17, then length-prefixed strings.
// touchScript depends on lastActiveTime staying at offset 9.
const headerSize = 25

var (
	errInvalidVersion = errors.New("invalid session version")
	errFieldTooLong   = errors.New("session field too long")
)

// Encode serializes s into the compact binary record stored in Redis.
func Encode(s *Session) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(headerSize + len(s.UserID) + len(s.TokenHash) + len(s.UserAgent) + 64)

	buf.WriteByte(sessionFormatVersion)
	for _, ts := range [...]int64{s.LoginTime, s.LastActiveTime, s.ExpiresAt} {
		if err := binary.Write(&buf, binary.BigEndian, ts); err != nil {
			return nil, err
		}
	}

	for _, field := range [...]string{
		s.UserID,
		s.TokenHash,
		s.Username,
		s.Role,
		s.KindergartenID,
		s.IP,
		s.UserAgent,
		s.DeviceID,
	} {
		if err := writeString(&buf, field); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

// Decode parses a record produced by Encode.
func Decode(data []byte) (*Session, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != sessionFormatVersion {
		return nil, errInvalidVersion
	}

	s := &Session{}
	for _, ts := range [...]*int64{&s.LoginTime, &s.LastActiveTime, &s.ExpiresAt} {
		if err := binary.Read(reader, binary.BigEndian, ts); err != nil {
			return nil, err
		}
	}

	for _, field := range [...]*string{
		&s.UserID,
		&s.TokenHash,
		&s.Username,
		&s.Role,
		&s.KindergartenID,
		&s.IP,
		&s.UserAgent,
		&s.DeviceID,
	} {
		v, err := readString(reader)
		if err != nil {
			return nil, err
		}
		*field = v
	}

	if reader.Len() != 0 {
		return nil, errors.New("trailing bytes in session record")
	}
	return s, nil
}

func writeString(buf *bytes.Buffer, s string) error {
	if len(s) > math.MaxUint16 {
		return errFieldTooLong
	}
	if err := binary.Write(buf, binary.BigEndian, uint16(len(s))); err != nil {
		return err
	}
	buf.WriteString(s)
	return nil
}

func readString(r *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", err
	}
	if int(n) > r.Len() {
		return "", io.ErrUnexpectedEOF
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

func encodeMillis(ms int64) string {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(ms))
	return string(b[:])
}
