package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// LabelPrefix is the fixed prefix of every anonymized label.
const LabelPrefix = "Response "

// labelPattern matches a whole label token. The letter run is greedy and
// bounded, so "Response AA" is never read as "Response A".
var labelPattern = regexp.MustCompile(`\bResponse [A-Z]+\b`)

// LabelMap is the bidirectional label/model mapping of a single turn.
// Labels are kept in assignment order.
type LabelMap struct {
	labels  []string
	models  []string
	byLabel map[string]string
	byModel map[string]string
}

// AssignLabels gives each model a label by its position in models:
// "Response A" … "Response Z", then "Response AA", "Response AB", and so on.
// Arrival order of responses never influences the result.
func AssignLabels(models []string) (*LabelMap, error) {
	lm := &LabelMap{
		labels:  make([]string, 0, len(models)),
		models:  make([]string, 0, len(models)),
		byLabel: make(map[string]string, len(models)),
		byModel: make(map[string]string, len(models)),
	}
	for i, m := range models {
		if strings.TrimSpace(m) == "" {
			return nil, NewConfigurationError("council_models", fmt.Sprintf("model at position %d is empty", i))
		}
		if _, dup := lm.byModel[m]; dup {
			return nil, NewConfigurationError("council_models", fmt.Sprintf("duplicate model %q", m))
		}
		label := LabelPrefix + labelLetters(i)
		lm.labels = append(lm.labels, label)
		lm.models = append(lm.models, m)
		lm.byLabel[label] = m
		lm.byModel[m] = label
	}
	return lm, nil
}

// labelLetters converts a zero-based index to spreadsheet-style column
// letters: 0 → A, 25 → Z, 26 → AA.
func labelLetters(i int) string {
	n := i + 1
	var buf []byte
	for n > 0 {
		n--
		buf = append(buf, byte('A'+n%26))
		n /= 26
	}
	for l, r := 0, len(buf)-1; l < r; l, r = l+1, r-1 {
		buf[l], buf[r] = buf[r], buf[l]
	}
	return string(buf)
}

// Len returns the number of labeled models.
func (lm *LabelMap) Len() int {
	if lm == nil {
		return 0
	}
	return len(lm.labels)
}

// Labels returns the labels in assignment order.
func (lm *LabelMap) Labels() []string {
	if lm == nil {
		return nil
	}
	return append([]string(nil), lm.labels...)
}

// Models returns the labeled models in assignment order.
func (lm *LabelMap) Models() []string {
	if lm == nil {
		return nil
	}
	return append([]string(nil), lm.models...)
}

// Model returns the model behind a label.
func (lm *LabelMap) Model(label string) (string, bool) {
	if lm == nil {
		return "", false
	}
	m, ok := lm.byLabel[label]
	return m, ok
}

// Label returns the label issued to a model.
func (lm *LabelMap) Label(model string) (string, bool) {
	if lm == nil {
		return "", false
	}
	l, ok := lm.byModel[model]
	return l, ok
}

// Reveal replaces every whole-token label in text with its model identifier.
// Labels that were not issued in this map are left untouched.
func (lm *LabelMap) Reveal(text string) string {
	return lm.RevealWith(text, nil)
}

// RevealWith is Reveal with a custom display name for each model. A nil
// display uses the model identifier.
func (lm *LabelMap) RevealWith(text string, display func(model string) string) string {
	if lm.Len() == 0 {
		return text
	}
	return labelPattern.ReplaceAllStringFunc(text, func(label string) string {
		m, ok := lm.byLabel[label]
		if !ok {
			return label
		}
		if display != nil {
			return display(m)
		}
		return m
	})
}

// Anonymize replaces every whole-token model identifier in text with its
// label. Longer identifiers are tried first so that a model whose id is a
// prefix of another never splits it.
func (lm *LabelMap) Anonymize(text string) string {
	if lm.Len() == 0 || text == "" {
		return text
	}
	ids := lm.Models()
	sort.SliceStable(ids, func(i, j int) bool { return len(ids[i]) > len(ids[j]) })

	var b strings.Builder
	b.Grow(len(text))
	for i := 0; i < len(text); {
		matched := false
		if i == 0 || !isModelRuneBefore(text, i) {
			for _, id := range ids {
				if strings.HasPrefix(text[i:], id) && tokenEndsAt(text, i+len(id)) {
					b.WriteString(lm.byModel[id])
					i += len(id)
					matched = true
					break
				}
			}
		}
		if !matched {
			_, size := utf8.DecodeRuneInString(text[i:])
			b.WriteString(text[i : i+size])
			i += size
		}
	}
	return b.String()
}

// isModelRune reports runes that can appear inside a model identifier such
// as "openai/gpt-4.1" or "llama3:8b".
func isModelRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || strings.ContainsRune("_-/:.", r)
}

func isModelRuneBefore(text string, i int) bool {
	r, _ := utf8.DecodeLastRuneInString(text[:i])
	return isModelRune(r)
}

// tokenEndsAt reports whether position end closes a token. A trailing period
// counts as punctuation unless an identifier character follows it.
func tokenEndsAt(text string, end int) bool {
	if end >= len(text) {
		return true
	}
	r, size := utf8.DecodeRuneInString(text[end:])
	if r == '.' {
		if end+size >= len(text) {
			return true
		}
		next, _ := utf8.DecodeRuneInString(text[end+size:])
		return !isModelRune(next)
	}
	return !isModelRune(r)
}

// MarshalJSON encodes the map as a label → model object in label order.
func (lm *LabelMap) MarshalJSON() ([]byte, error) {
	if lm == nil {
		return []byte("null"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, label := range lm.labels {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(label)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(lm.byLabel[label])
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a label → model object, keeping document order.
func (lm *LabelMap) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("label map: expected object, got %v", tok)
	}
	out := LabelMap{byLabel: map[string]string{}, byModel: map[string]string{}}
	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return err
		}
		label, _ := kt.(string)
		var model string
		if err := dec.Decode(&model); err != nil {
			return err
		}
		out.labels = append(out.labels, label)
		out.models = append(out.models, model)
		out.byLabel[label] = model
		out.byModel[model] = label
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*lm = out
	return nil
}
