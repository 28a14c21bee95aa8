package input

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"

	"github.com/vietddude/voicebatch/internal/core/domain"
)

// JobSpec is the JSON form of one job. Empty fields take the same defaults as CSV rows.
type JobSpec struct {
	ID       string            `json:"id"`
	Text     string            `json:"text"`
	Filename string            `json:"filename"`
	Provider string            `json:"provider"`
	Voice    string            `json:"voice"`
	Format   string            `json:"format"`
	Language string            `json:"language"`
	Speed    float64           `json:"speed"`
	Extra    map[string]string `json:"extra"`
}

// ReadJSON decodes an array of JobSpec.
func ReadJSON(r io.Reader, d Defaults) ([]domain.Job, error) {
	var specs []JobSpec
	if err := json.NewDecoder(r).Decode(&specs); err != nil {
		return nil, fmt.Errorf("decode jobs: %w", err)
	}
	return FromSpecs(specs, d)
}

// FromSpecs validates specs and turns them into pending jobs.
func FromSpecs(specs []JobSpec, d Defaults) ([]domain.Job, error) {
	jobs := make([]domain.Job, 0, len(specs))
	seen := make(map[string]int, len(specs))

	for i, s := range specs {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			return nil, fmt.Errorf("job %d: %w: empty text", i, ErrInvalidRow)
		}
		if s.Speed < 0 {
			return nil, fmt.Errorf("job %d: %w: speed %v", i, ErrInvalidRow, s.Speed)
		}

		voice := d.Voice
		voice.Extra = copyExtra(d.Voice.Extra)
		if s.Voice != "" {
			voice.Voice = s.Voice
		}
		if s.Format != "" {
			voice.Format = strings.ToLower(s.Format)
		}
		if voice.Format == "" {
			voice.Format = "mp3"
		}
		if s.Language != "" {
			voice.Language = s.Language
		}
		if s.Speed > 0 {
			voice.Speed = s.Speed
		}
		for k, v := range s.Extra {
			if voice.Extra == nil {
				voice.Extra = make(map[string]string, len(s.Extra))
			}
			voice.Extra[k] = v
		}

		id := s.ID
		if id == "" {
			id = uuid.NewString()
		}
		if prev, dup := seen[id]; dup {
			return nil, fmt.Errorf("job %d: %w: id %q already used by job %d", i, ErrInvalidRow, id, prev)
		}
		seen[id] = i

		filename := s.Filename
		if filename == "" {
			filename = id + "." + voice.Format
		}
		providerName := s.Provider
		if providerName == "" {
			providerName = d.Provider
		}

		jobs = append(jobs, domain.NewJob(id, text, filename, providerName, voice))
	}
	return jobs, nil
}
