package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"

	"github.com/relathq/trustcore/rbac"
)

// ErrSchemaVersion is an exported constant or variable used by the session-trust engine.
var ErrSchemaVersion = errors.New("unsupported session schema version")

// ErrCorrupt is an exported constant or variable used by the session-trust engine.
var ErrCorrupt = errors.New("corrupt session record")

const (
	flagLoggedIn      = 1 << 0
	flagOrganization  = 1 << 1
	flagImpersonating = 1 << 2
)

// Encode serializes d into the versioned binary record.
func Encode(d *Data) ([]byte, error) {
	if d == nil {
		return nil, ErrCorrupt
	}

	var buf bytes.Buffer
	buf.WriteByte(SchemaVersion)

	var flags byte
	if d.IsLoggedIn {
		flags |= flagLoggedIn
	}
	if d.Organization != nil {
		flags |= flagOrganization
	}
	if d.Impersonating != nil {
		flags |= flagImpersonating
	}
	buf.WriteByte(flags)

	if err := binary.Write(&buf, binary.BigEndian, d.CreatedAt); err != nil {
		return nil, err
	}

	for _, s := range []string{d.UserID, d.Email, string(d.Role), d.CSRFToken, d.DeviceID} {
		if err := writeString(&buf, s); err != nil {
			return nil, err
		}
	}

	if d.Organization != nil {
		if err := writeString(&buf, d.Organization.ID); err != nil {
			return nil, err
		}
		if err := writeString(&buf, string(d.Organization.Role)); err != nil {
			return nil, err
		}
	}

	if d.Impersonating != nil {
		if err := binary.Write(&buf, binary.BigEndian, d.Impersonating.StartedAt); err != nil {
			return nil, err
		}
		for _, s := range []string{
			d.Impersonating.OriginalUserID,
			d.Impersonating.OriginalEmail,
			string(d.Impersonating.OriginalRole),
		} {
			if err := writeString(&buf, s); err != nil {
				return nil, err
			}
		}
	}

	return buf.Bytes(), nil
}

// Decode parses a versioned binary record. Records with a different
// schema version are rejected whole, never partially decoded.
func Decode(raw []byte) (*Data, error) {
	reader := bytes.NewReader(raw)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, ErrCorrupt
	}
	if version != SchemaVersion {
		return nil, ErrSchemaVersion
	}

	flags, err := reader.ReadByte()
	if err != nil {
		return nil, ErrCorrupt
	}

	d := &Data{IsLoggedIn: flags&flagLoggedIn != 0}

	if err := binary.Read(reader, binary.BigEndian, &d.CreatedAt); err != nil {
		return nil, ErrCorrupt
	}

	fields := make([]string, 5)
	for i := range fields {
		fields[i], err = readString(reader)
		if err != nil {
			return nil, ErrCorrupt
		}
	}
	d.UserID = fields[0]
	d.Email = fields[1]
	d.Role = rbac.Role(fields[2])
	d.CSRFToken = fields[3]
	d.DeviceID = fields[4]

	if flags&flagOrganization != 0 {
		org := &Organization{}
		if org.ID, err = readString(reader); err != nil {
			return nil, ErrCorrupt
		}
		role, err := readString(reader)
		if err != nil {
			return nil, ErrCorrupt
		}
		org.Role = rbac.Role(role)
		d.Organization = org
	}

	if flags&flagImpersonating != 0 {
		imp := &Impersonation{}
		if err := binary.Read(reader, binary.BigEndian, &imp.StartedAt); err != nil {
			return nil, ErrCorrupt
		}
		if imp.OriginalUserID, err = readString(reader); err != nil {
			return nil, ErrCorrupt
		}
		if imp.OriginalEmail, err = readString(reader); err != nil {
			return nil, ErrCorrupt
		}
		role, err := readString(reader)
		if err != nil {
			return nil, ErrCorrupt
		}
		imp.OriginalRole = rbac.Role(role)
		d.Impersonating = imp
	}

	if reader.Len() != 0 {
		return nil, ErrCorrupt
	}

	if d.IsLoggedIn && (d.UserID == "" || d.Email == "") {
		return nil, ErrCorrupt
	}

	return d, nil
}

func writeString(buf *bytes.Buffer, s string) error {
	if len(s) > 65535 {
		return errors.New("session field too long")
	}
	if err := binary.Write(buf, binary.BigEndian, uint16(len(s))); err != nil {
		return err
	}
	buf.WriteString(s)
	return nil
}

func readString(reader *bytes.Reader) (string, error) {
	var length uint16
	if err := binary.Read(reader, binary.BigEndian, &length); err != nil {
		return "", err
	}

	raw := make([]byte, length)
	if _, err := io.ReadFull(reader, raw); err != nil {
		return "", err
	}
	return string(raw), nil
}
