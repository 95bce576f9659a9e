package wordpress

import (
	"encoding/json"
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// Record is one document returned by the REST API. The field set is
// controlled by the remote site, so records stay schemaless and round-trip
// through persistence untouched. Typed accessors exist only for the handful
// of fields the backup engine inspects.
type Record map[string]any

// ID returns the record id, or 0 when absent or not numeric.
func (r Record) ID() int64 {
	switch v := r["id"].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}

// MediaFields are the fields of a media record the downloader cares about.
type MediaFields struct {
	SourceURL string `mapstructure:"source_url"`
	File      string `mapstructure:"file"`
	Filesize  int64  `mapstructure:"filesize"`
	MimeType  string `mapstructure:"mime_type"`
	Date      string `mapstructure:"date"`
}

// Media decodes the media-specific fields out of the record. Missing fields
// stay zero; a present field of the wrong shape is an error.
func (r Record) Media() (MediaFields, error) {
	var m MediaFields
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &m,
		WeaklyTypedInput: true, // filesize often arrives as a JSON string
	})
	if err != nil {
		return m, err
	}
	if err := dec.Decode(map[string]any(r)); err != nil {
		return m, fmt.Errorf("decode media fields: %w", err)
	}
	return m, nil
}
