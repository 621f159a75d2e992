package changes

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/syntrixbase/follower/internal/follower/events"
)

// Encode frames records as a response body in the given discipline.
func Encode(feed events.Discipline, records []events.ChangeRecord) ([]byte, error) {
	var buf bytes.Buffer

	switch feed {
	case events.DisciplineContinuous:
		for i := range records {
			data, err := json.Marshal(&records[i])
			if err != nil {
				return nil, fmt.Errorf("failed to encode record %d: %w", records[i].Seq, err)
			}
			buf.Write(data)
			buf.WriteByte('\n')
		}
	case events.DisciplineLongpoll:
		buf.WriteString(LongpollHeader)
		for i := range records {
			if i > 0 {
				buf.WriteByte(',')
			}
			data, err := json.Marshal(&records[i])
			if err != nil {
				return nil, fmt.Errorf("failed to encode record %d: %w", records[i].Seq, err)
			}
			buf.Write(data)
		}
		buf.WriteString("]}")
	default:
		return nil, fmt.Errorf("unknown feed discipline %q", feed)
	}

	return buf.Bytes(), nil
}
