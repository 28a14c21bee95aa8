package input

import (
	"errors"
	"strings"
	"testing"

	"github.com/vietddude/voicebatch/internal/core/domain"
)

func TestReadCSV(t *testing.T) {
	data := "\uFEFFID,Text,Filename,Provider,Voice,Format,Speed,style\n" +
		"a1,Hello there,hello.mp3,openai,alloy,MP3,1.25,cheerful\n" +
		",Second line,,,,wav,,\n"

	jobs, err := ReadCSV(strings.NewReader(data), Defaults{
		Provider: "local",
		Voice:    domain.VoiceOptions{Voice: "default", Language: "en"},
	})
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("jobs = %d, want 2", len(jobs))
	}

	first := jobs[0]
	if first.ID != "a1" || first.OutputKey != "hello.mp3" || first.Provider != "openai" {
		t.Errorf("first = %+v", first)
	}
	if first.Voice.Voice != "alloy" || first.Voice.Format != "mp3" || first.Voice.Speed != 1.25 {
		t.Errorf("first voice = %+v", first.Voice)
	}
	if first.Voice.Extra["style"] != "cheerful" || first.Voice.Language != "en" {
		t.Errorf("first extras/defaults = %+v", first.Voice)
	}
	if first.Status != domain.JobStatusPending {
		t.Errorf("status = %s", first.Status)
	}

	second := jobs[1]
	if second.ID == "" || second.Provider != "local" || second.Voice.Voice != "default" {
		t.Errorf("second = %+v", second)
	}
	if second.OutputKey != second.ID+".wav" {
		t.Errorf("second output = %q", second.OutputKey)
	}
}

func TestReadCSV_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
		want error
	}{
		{"no text column", "id,voice\n1,alloy\n", ErrMissingColumn},
		{"empty text", "id,text\n1,\n", ErrInvalidRow},
		{"bad speed", "text,speed\nhi,fast\n", ErrInvalidRow},
		{"duplicate id", "id,text\n1,a\n1,b\n", ErrInvalidRow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ReadCSV(strings.NewReader(tt.data), Defaults{}); !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestReadCSV_Empty(t *testing.T) {
	jobs, err := ReadCSV(strings.NewReader(""), Defaults{})
	if err != nil || len(jobs) != 0 {
		t.Errorf("empty input = %v, %v", jobs, err)
	}
}
