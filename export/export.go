// Package export converts a form's responses to and from tabular rows: one
// row per response, one column per root question, selection values resolved
// to option text.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/formdesk/formdesk/model"
)

const (
	FormatCSV  = "csv"
	FormatJSON = "json"

	dateColumn = "Date"
)

type Exporter struct {
	form      model.Form
	roots     []model.Question
	writer    io.Writer
	csvWriter *csv.Writer
	format    string
	counter   int
}

func NewExporter(form model.Form, writer io.Writer, format string) (*Exporter, error) {
	e := &Exporter{
		form:   form,
		roots:  rootQuestions(form),
		writer: writer,
		format: format,
	}

	if err := e.init(); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Exporter) init() error {
	var err error
	switch e.format {
	case FormatCSV:
		e.csvWriter = csv.NewWriter(e.writer)
		record := []string{dateColumn}
		for _, q := range e.roots {
			record = append(record, q.Text)
		}
		err = e.csvWriter.Write(record)
	case FormatJSON:
		_, err = e.writer.Write([]byte(`{ "responses": [`))
	default:
		return fmt.Errorf("unsupported format: %s", e.format)
	}
	return err
}

func (e *Exporter) WriteResponse(resp model.FormResponse) error {
	defer func() { e.counter++ }()

	switch e.format {
	case FormatCSV:
		record := []string{time.UnixMilli(resp.CreatedAt).UTC().Format(time.RFC3339)}
		for _, q := range e.roots {
			record = append(record, cellValue(q, resp))
		}
		return e.csvWriter.Write(record)
	case FormatJSON:
		body, err := json.Marshal(resp)
		if err != nil {
			return err
		}
		if e.counter > 0 {
			if _, err := e.writer.Write([]byte(",")); err != nil {
				return err
			}
		}
		_, err = e.writer.Write(body)
		return err
	}
	return fmt.Errorf("unsupported format: %s", e.format)
}

func (e *Exporter) Finish() error {
	switch e.format {
	case FormatCSV:
		e.csvWriter.Flush()
		return e.csvWriter.Error()
	case FormatJSON:
		_, err := e.writer.Write([]byte(`] }`))
		return err
	}
	return fmt.Errorf("unsupported format: %s", e.format)
}

func cellValue(q model.Question, resp model.FormResponse) string {
	for _, r := range resp.Responses {
		if r.QuestionID == q.ID {
			return ValueText(q, r.Value)
		}
	}
	return ""
}

// ValueText renders an answer for a spreadsheet cell, resolving option ids to
// the option's display text.
func ValueText(q model.Question, v model.Value) string {
	if v.IsNull() {
		return ""
	}

	switch q.Type {
	case model.QuestionSelect:
		if id, ok := v.OptionID(); ok {
			if opt, found := q.Option(id); found {
				return opt.Text
			}
		}
		return ""
	case model.QuestionMultiselect:
		ids, ok := v.OptionIDs()
		if !ok {
			return ""
		}
		var texts []string
		for _, opt := range q.Options {
			for _, id := range ids {
				if opt.ID == id {
					texts = append(texts, opt.Text)
					break
				}
			}
		}
		return strings.Join(texts, ", ")
	case model.QuestionNumber:
		if n, ok := v.Number(); ok {
			return strconv.FormatFloat(n, 'f', -1, 64)
		}
	case model.QuestionBoolean:
		if b, ok := v.Bool(); ok {
			return strconv.FormatBool(b)
		}
	default:
		if s, ok := v.Text(); ok {
			return s
		}
	}
	return ""
}

// ReadResponses parses a CSV produced by Exporter (or a compatible sheet)
// back into response entries for the given form. Any malformed row fails the
// whole read: imports are all-or-nothing.
func ReadResponses(form model.Form, r io.Reader) ([]model.FormResponse, error) {
	reader := csv.NewReader(r)

	header, err := reader.Read()
	if err != nil {
		return nil, errors.Wrap(err, "read header")
	}
	if len(header) == 0 || header[0] != dateColumn {
		return nil, fmt.Errorf("first column must be %q", dateColumn)
	}

	byText := make(map[string]model.Question)
	for _, q := range rootQuestions(form) {
		byText[q.Text] = q
	}
	columns := make([]model.Question, len(header))
	for i, text := range header[1:] {
		q, ok := byText[text]
		if !ok {
			return nil, fmt.Errorf("column %q does not match a question of form %q", text, form.Name)
		}
		columns[i+1] = q
	}

	var out []model.FormResponse
	for row := 2; ; row++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "row %d", row)
		}

		createdAt, err := time.Parse(time.RFC3339, record[0])
		if err != nil {
			return nil, errors.Wrapf(err, "row %d: date", row)
		}

		var responses []model.QuestionResponse
		for i, cell := range record[1:] {
			if cell == "" {
				continue
			}
			q := columns[i+1]
			value, err := parseCell(q, cell)
			if err != nil {
				return nil, errors.Wrapf(err, "row %d: column %q", row, q.Text)
			}
			responses = append(responses, model.QuestionResponse{QuestionID: q.ID, Value: value})
		}
		if len(responses) == 0 {
			return nil, fmt.Errorf("row %d has no values", row)
		}

		out = append(out, model.FormResponse{
			FormID:      form.ID,
			FormVersion: form.Version,
			Responses:   responses,
			CreatedAt:   createdAt.UnixMilli(),
		})
	}
	return out, nil
}

func parseCell(q model.Question, cell string) (model.Value, error) {
	switch q.Type {
	case model.QuestionSelect:
		id, ok := optionID(q, cell)
		if !ok {
			return model.Value{}, fmt.Errorf("unknown option %q", cell)
		}
		return model.OptionValue(id), nil
	case model.QuestionMultiselect:
		var ids []string
		for _, text := range strings.Split(cell, ", ") {
			id, ok := optionID(q, text)
			if !ok {
				return model.Value{}, fmt.Errorf("unknown option %q", text)
			}
			ids = append(ids, id)
		}
		return model.OptionsValue(ids...), nil
	case model.QuestionNumber:
		n, err := strconv.ParseFloat(cell, 64)
		if err != nil {
			return model.Value{}, fmt.Errorf("not a number: %q", cell)
		}
		return model.NumberValue(n), nil
	case model.QuestionBoolean:
		b, err := strconv.ParseBool(cell)
		if err != nil {
			return model.Value{}, fmt.Errorf("not a boolean: %q", cell)
		}
		return model.BoolValue(b), nil
	}
	return model.TextValue(cell), nil
}

func optionID(q model.Question, text string) (string, bool) {
	for _, opt := range q.Options {
		if opt.Text == text {
			return opt.ID, true
		}
	}
	return "", false
}

func rootQuestions(form model.Form) []model.Question {
	var roots []model.Question
	for _, q := range form.Questions {
		if q.IsRoot() {
			roots = append(roots, q)
		}
	}
	return roots
}
