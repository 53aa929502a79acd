// Copyright 2025 Cortexa Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package chunker

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

const transcriptSummaryPrompt = "Summarize this meeting transcript in a short paragraph. " +
	"Mention the participants and the main topics discussed."

var (
	vttTimestampRe = regexp.MustCompile(`^\d{2}:\d{2}(:\d{2})?\.\d{3}\s+-->\s+`)
	vttVoiceRe     = regexp.MustCompile(`<v\s+([^>]+)>(.*?)(</v>|$)`)
	vttTagRe       = regexp.MustCompile(`<[^>]+>`)
)

// TranscriptChunker parses WebVTT captions, coalesces consecutive captions
// from the same speaker, and splits the result. One chat summary serves as
// embedding text for every chunk so retrieval lands on the meeting, not a
// caption fragment.
type TranscriptChunker struct {
	deps *Deps
}

type caption struct {
	Voice string
	Text  string
}

func (c *TranscriptChunker) Chunk(ctx context.Context, src Source) ([]Chunk, error) {
	if len(src.Data) == 0 {
		return []Chunk{}, nil
	}

	captions := parseWebVTT(string(src.Data))
	if len(captions) == 0 {
		return []Chunk{}, nil
	}

	transcript := renderTranscript(coalesceByVoice(captions))

	summary := ""
	if c.deps.Chat != nil {
		input := truncateToBudget(c.deps.Estimator, transcript, c.deps.Params.MaxChunkSize)
		var err error
		summary, err = c.deps.Chat.Complete(ctx, transcriptSummaryPrompt, input)
		if err != nil {
			slog.Warn("transcript summary generation failed",
				"document", src.Name, "error", err)
			summary = ""
		}
	}

	s := newSplitter(c.deps.Estimator, c.deps.Params, nil)
	pieces := s.Split(transcript)

	chunks := make([]Chunk, 0, len(pieces))
	offset := 0
	for _, piece := range pieces {
		chunks = append(chunks, Chunk{
			ChunkID:       len(chunks),
			Content:       piece,
			EmbeddingText: summary,
			Title:         src.Name,
			Summary:       summary,
			Offset:        offset,
			Length:        len(piece),
		})
		offset += len(piece)
	}
	return chunks, nil
}

// parseWebVTT extracts caption text lines, honoring <v Speaker> voice tags.
func parseWebVTT(content string) []caption {
	var captions []caption
	inCue := false

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimRight(line, "\r")
		trimmed := strings.TrimSpace(line)

		switch {
		case trimmed == "" || trimmed == "WEBVTT" || strings.HasPrefix(trimmed, "NOTE"):
			inCue = false
		case vttTimestampRe.MatchString(trimmed):
			inCue = true
		case inCue:
			if m := vttVoiceRe.FindStringSubmatch(trimmed); m != nil {
				captions = append(captions, caption{
					Voice: strings.TrimSpace(m[1]),
					Text:  strings.TrimSpace(vttTagRe.ReplaceAllString(m[2], "")),
				})
			} else {
				captions = append(captions, caption{
					Text: strings.TrimSpace(vttTagRe.ReplaceAllString(trimmed, "")),
				})
			}
		}
	}
	return captions
}

// coalesceByVoice merges consecutive captions from the same speaker into
// one utterance.
func coalesceByVoice(captions []caption) []caption {
	var out []caption
	for _, cue := range captions {
		if cue.Text == "" {
			continue
		}
		if len(out) > 0 && out[len(out)-1].Voice == cue.Voice {
			out[len(out)-1].Text += " " + cue.Text
			continue
		}
		out = append(out, cue)
	}
	return out
}

func renderTranscript(captions []caption) string {
	var b strings.Builder
	for _, cue := range captions {
		if cue.Voice != "" {
			b.WriteString(fmt.Sprintf("%s: %s\n", cue.Voice, cue.Text))
		} else {
			b.WriteString(cue.Text)
			b.WriteString("\n")
		}
	}
	return b.String()
}
