package query

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"reviewhub.org/internal/review"
)

// Wire field numbers of the pull stream. A stream is one varint cursor
// (unix milliseconds) followed by any number of length-delimited record
// frames. Clients persist the cursor and pass it back as the next since
// value; frames may repeat across pulls and merges must be idempotent.
const (
	pullFieldCursor = 1
	pullFieldRecord = 2
)

// pullRecord is the wire shape of one record frame. Closed records are
// included with their close date so clients can drop them from local caches.
type pullRecord struct {
	Key               string    `json:"key"`
	Kind              string    `json:"kind"`
	ProjectUUID       string    `json:"project_uuid"`
	BranchUUID        string    `json:"branch_uuid"`
	BranchType        string    `json:"branch_type"`
	ComponentUUID     string    `json:"component_uuid,omitempty"`
	ComponentPath     string    `json:"component_path,omitempty"`
	Status            string    `json:"status"`
	Resolution        string    `json:"resolution,omitempty"`
	AssigneeUUID      string    `json:"assignee_uuid,omitempty"`
	AuthorLogin       string    `json:"author_login,omitempty"`
	Message           string    `json:"message,omitempty"`
	Line              int       `json:"line,omitempty"`
	Score             float64   `json:"score,omitempty"`
	SecurityCategory  string    `json:"security_category,omitempty"`
	SecurityStandards []string  `json:"security_standards,omitempty"`
	NewCodeReference  bool      `json:"new_code_reference,omitempty"`
	CreationDate      time.Time `json:"creation_date"`
	UpdateDate        time.Time `json:"update_date"`
	CloseDate         time.Time `json:"close_date,omitzero"`
}

func toPullRecord(rec review.Record) pullRecord {
	return pullRecord{
		Key:               rec.Key,
		Kind:              string(rec.Kind),
		ProjectUUID:       rec.ProjectUUID,
		BranchUUID:        rec.BranchUUID,
		BranchType:        string(rec.BranchType),
		ComponentUUID:     rec.ComponentUUID,
		ComponentPath:     rec.ComponentPath,
		Status:            string(rec.Status),
		Resolution:        string(rec.Resolution),
		AssigneeUUID:      rec.AssigneeUUID,
		AuthorLogin:       rec.AuthorLogin,
		Message:           rec.Message,
		Line:              rec.Line,
		Score:             rec.Score,
		SecurityCategory:  rec.SecurityCategory,
		SecurityStandards: rec.SecurityStandards,
		NewCodeReference:  rec.NewCodeReference,
		CreationDate:      rec.CreationDate,
		UpdateDate:        rec.UpdateDate,
		CloseDate:         rec.CloseDate,
	}
}

func (p pullRecord) record() review.Record {
	return review.Record{
		Key:               p.Key,
		Kind:              review.Kind(p.Kind),
		ProjectUUID:       p.ProjectUUID,
		BranchUUID:        p.BranchUUID,
		BranchType:        review.BranchType(p.BranchType),
		ComponentUUID:     p.ComponentUUID,
		ComponentPath:     p.ComponentPath,
		Status:            review.Status(p.Status),
		Resolution:        review.Resolution(p.Resolution),
		AssigneeUUID:      p.AssigneeUUID,
		AuthorLogin:       p.AuthorLogin,
		Message:           p.Message,
		Line:              p.Line,
		Score:             p.Score,
		SecurityCategory:  p.SecurityCategory,
		SecurityStandards: p.SecurityStandards,
		NewCodeReference:  p.NewCodeReference,
		CreationDate:      p.CreationDate,
		UpdateDate:        p.UpdateDate,
		CloseDate:         p.CloseDate,
	}
}

// WritePullStream frames the cursor and the record set onto w. The cursor is
// written first so a client that reads a partial stream still learns nothing
// newer than what it received.
func WritePullStream(w io.Writer, cursor time.Time, records []review.Record) error {
	buf := protowire.AppendTag(nil, pullFieldCursor, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(cursor.UnixMilli()))
	if _, err := w.Write(buf); err != nil {
		return err
	}
	for _, rec := range records {
		body, err := json.Marshal(toPullRecord(rec))
		if err != nil {
			return err
		}
		frame := protowire.AppendTag(nil, pullFieldRecord, protowire.BytesType)
		frame = protowire.AppendBytes(frame, body)
		if _, err := w.Write(frame); err != nil {
			return err
		}
	}
	return nil
}

// ReadPullStream decodes a complete pull stream. Unknown fields are skipped
// so older clients tolerate stream additions.
func ReadPullStream(r io.Reader) (time.Time, []review.Record, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return time.Time{}, nil, err
	}

	var cursor time.Time
	var records []review.Record
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return time.Time{}, nil, fmt.Errorf("malformed pull stream: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == pullFieldCursor && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return time.Time{}, nil, fmt.Errorf("malformed cursor: %w", protowire.ParseError(n))
			}
			cursor = time.UnixMilli(int64(v)).UTC()
			data = data[n:]
		case num == pullFieldRecord && typ == protowire.BytesType:
			body, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return time.Time{}, nil, fmt.Errorf("malformed record frame: %w", protowire.ParseError(n))
			}
			var pr pullRecord
			if err := json.Unmarshal(body, &pr); err != nil {
				return time.Time{}, nil, fmt.Errorf("decode record frame: %w", err)
			}
			records = append(records, pr.record())
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return time.Time{}, nil, fmt.Errorf("malformed pull stream: %w", protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return cursor, records, nil
}
