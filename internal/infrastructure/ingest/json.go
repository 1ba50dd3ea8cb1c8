package ingest

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/sebastiansabo/autoworld-crawl/internal/domain/integration"
)

// maxLineSize bounds one NDJSON line
const maxLineSize = 4 << 20

type jsonDecoder struct{}

// jsonRecord is the crawler's JSON record shape. Prices may be numbers or
// strings; media entries may be URLs or {url, caption} objects.
type jsonRecord struct {
	IdentityKey    string            `json:"identity_key"`
	Key            string            `json:"key"`
	Title          string            `json:"title"`
	Price          json.RawMessage   `json:"price"`
	CompareAtPrice json.RawMessage   `json:"compare_at_price"`
	Attributes     map[string]string `json:"attributes"`
	Features       []string          `json:"features"`
	Media          []jsonMedia       `json:"media"`
	SourceURL      string            `json:"source_url"`
}

type jsonMedia struct {
	URL     string `json:"url"`
	Caption string `json:"caption"`
}

func (m *jsonMedia) UnmarshalJSON(data []byte) error {
	var url string
	if err := json.Unmarshal(data, &url); err == nil {
		m.URL = url
		return nil
	}
	type plain jsonMedia
	return json.Unmarshal(data, (*plain)(m))
}

// Decode accepts a top-level array or newline delimited objects
func (jsonDecoder) Decode(r io.Reader) (*integration.RecordBatch, error) {
	br := bufio.NewReader(r)
	first, err := firstNonSpace(br)
	if err == io.EOF {
		return nil, ErrEmptyInput
	}
	if err != nil {
		return nil, fmt.Errorf("read json: %w", err)
	}
	if first == '[' {
		return decodeJSONArray(br)
	}
	return decodeNDJSON(br)
}

func firstNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		if b == 0xEF {
			// UTF-8 BOM
			_, _ = br.Discard(2)
			continue
		}
		if !isJSONSpace(b) {
			return b, br.UnreadByte()
		}
	}
}

func isJSONSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

func decodeJSONArray(r io.Reader) (*integration.RecordBatch, error) {
	dec := json.NewDecoder(r)
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedInput, err)
	}
	out := newCollector()
	for position := 0; dec.More(); position++ {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("%w: record %d: %w", ErrMalformedInput, position, err)
		}
		out.add(recordFromJSON(position, raw))
	}
	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedInput, err)
	}
	return out.result(), nil
}

func decodeNDJSON(r io.Reader) (*integration.RecordBatch, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	out := newCollector()
	position := 0
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		out.add(recordFromJSON(position, line))
		position++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedInput, err)
	}
	return out.result(), nil
}

func recordFromJSON(position int, raw []byte) (integration.NormalizedRecord, *RowError) {
	var jr jsonRecord
	if err := json.Unmarshal(raw, &jr); err != nil {
		return integration.NormalizedRecord{}, &RowError{Position: position, Code: CodeMalformedRow, Message: err.Error()}
	}

	key := jr.IdentityKey
	if strings.TrimSpace(key) == "" {
		key = jr.Key
	}
	rec := integration.NormalizedRecord{
		IdentityKey: cleanText(key),
		Title:       cleanText(jr.Title),
		SourceURL:   strings.TrimSpace(jr.SourceURL),
	}
	for _, f := range jr.Features {
		if f = cleanText(f); f != "" {
			rec.Features = append(rec.Features, f)
		}
	}
	for _, m := range jr.Media {
		if u := strings.TrimSpace(m.URL); u != "" {
			rec.Media = append(rec.Media, integration.MediaReference{URL: u, Caption: cleanText(m.Caption)})
		}
	}
	for k, v := range jr.Attributes {
		if v = cleanText(v); v != "" {
			rec.Attributes.Set(canonicalColumn(k), v)
		}
	}

	var err error
	if rec.Price, err = jsonAmount(jr.Price); err != nil {
		return rec, &RowError{Position: position, Column: ColPrice, Code: CodeInvalidPrice, Message: err.Error()}
	}
	if rec.CompareAtPrice, err = jsonAmount(jr.CompareAtPrice); err != nil {
		return rec, &RowError{Position: position, Column: ColCompareAtPrice, Code: CodeInvalidPrice, Message: err.Error()}
	}
	return rec, validateRecord(position, rec)
}

// jsonAmount accepts null, a JSON number or a price string
func jsonAmount(raw json.RawMessage) (*float64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		return parseAmount(s)
	}
	d, err := decimal.NewFromString(string(raw))
	if err != nil {
		return nil, fmt.Errorf("not a number: %s", raw)
	}
	if d.IsNegative() {
		return nil, errNegativeAmount
	}
	f, _ := d.Float64()
	return &f, nil
}

