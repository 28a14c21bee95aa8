// Package input turns batch files into job descriptors.
package input

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/vietddude/voicebatch/internal/core/domain"
)

var (
	// ErrMissingColumn is returned when the header lacks a required column.
	ErrMissingColumn = errors.New("missing required column")
	// ErrInvalidRow is returned for rows that cannot become a job.
	ErrInvalidRow = errors.New("invalid row")
)

// Defaults fill values a row leaves empty.
type Defaults struct {
	Provider string
	Voice    domain.VoiceOptions
}

var knownColumns = map[string]bool{
	"id": true, "text": true, "filename": true, "provider": true,
	"voice": true, "format": true, "language": true, "speed": true,
}

// ReadCSVFile opens path and reads it with ReadCSV.
func ReadCSVFile(path string, d Defaults) ([]domain.Job, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadCSV(f, d)
}

// ReadCSV parses a header-first CSV. Only the text column is required.
// Unknown columns are passed to the provider as voice extras.
func ReadCSV(r io.Reader, d Defaults) ([]domain.Job, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\uFEFF")))] = i
	}
	if _, ok := cols["text"]; !ok {
		return nil, fmt.Errorf("%w: text", ErrMissingColumn)
	}

	var jobs []domain.Job
	seen := make(map[string]int)
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		field := func(name string) string {
			i, ok := cols[name]
			if !ok || i >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[i])
		}

		text := field("text")
		if text == "" {
			return nil, fmt.Errorf("line %d: %w: empty text", line, ErrInvalidRow)
		}

		voice := d.Voice
		voice.Extra = copyExtra(d.Voice.Extra)
		if v := field("voice"); v != "" {
			voice.Voice = v
		}
		if v := field("format"); v != "" {
			voice.Format = strings.ToLower(v)
		}
		if voice.Format == "" {
			voice.Format = "mp3"
		}
		if v := field("language"); v != "" {
			voice.Language = v
		}
		if v := field("speed"); v != "" {
			speed, err := strconv.ParseFloat(v, 64)
			if err != nil || speed <= 0 {
				return nil, fmt.Errorf("line %d: %w: speed %q", line, ErrInvalidRow, v)
			}
			voice.Speed = speed
		}
		for name, i := range cols {
			if knownColumns[name] || i >= len(rec) || strings.TrimSpace(rec[i]) == "" {
				continue
			}
			if voice.Extra == nil {
				voice.Extra = make(map[string]string)
			}
			voice.Extra[name] = strings.TrimSpace(rec[i])
		}

		id := field("id")
		if id == "" {
			id = uuid.NewString()
		}
		if prev, dup := seen[id]; dup {
			return nil, fmt.Errorf("line %d: %w: id %q already used on line %d", line, ErrInvalidRow, id, prev)
		}
		seen[id] = line

		filename := field("filename")
		if filename == "" {
			filename = id + "." + voice.Format
		}

		providerName := field("provider")
		if providerName == "" {
			providerName = d.Provider
		}

		jobs = append(jobs, domain.NewJob(id, text, filename, providerName, voice))
	}
	return jobs, nil
}

func copyExtra(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
