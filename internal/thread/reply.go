// Copyright (c) 2026 John Earle
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

package thread

import (
	"log/slog"
	"regexp"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
)

var (
	signatureLine = regexp.MustCompile(`(?m)^--[ \t]*$`)
	quotedLine    = regexp.MustCompile(`(?m)^>.*$`)
	preambleLine  = regexp.MustCompile(`(?m)^On .*wrote:[ \t]*$`)
	blankRun      = regexp.MustCompile(`\n{3,}`)
	htmlTag       = regexp.MustCompile(`<[^>]+>`)
)

// CleanReplyBody extracts the newest reply from an email body. Text is
// preferred; HTML is converted to text first. The signature is cut before
// quotes and "On ... wrote:" lines are removed, so a delimiter below quoted
// history bounds what the later passes see. ok is false when both bodies
// are empty.
func CleanReplyBody(text, html string) (body string, ok bool) {
	content := text
	if strings.TrimSpace(content) == "" {
		if strings.TrimSpace(html) == "" {
			return "", false
		}
		content = htmlToText(html)
	}

	content = strings.ReplaceAll(content, "\r\n", "\n")

	if loc := signatureLine.FindStringIndex(content); loc != nil {
		content = content[:loc[0]]
	}
	content = quotedLine.ReplaceAllString(content, "")
	content = preambleLine.ReplaceAllString(content, "")

	lines := strings.Split(content, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t")
	}
	content = blankRun.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")

	return strings.TrimSpace(content), true
}

func htmlToText(html string) string {
	md, err := htmltomarkdown.ConvertString(html)
	if err != nil {
		slog.Debug("html conversion failed, stripping tags", "error", err)
		return htmlTag.ReplaceAllString(html, "")
	}
	return md
}

// ReplySubject prefixes subject with "Re: " unless it already has it.
func ReplySubject(subject string) string {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "Re: No Subject"
	}
	if len(subject) >= 3 && strings.EqualFold(subject[:3], "re:") {
		return subject
	}
	return "Re: " + subject
}
