package contacts

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
)

var ErrNoPhoneColumn = errors.New("contacts: no phone column in header")

var (
	phoneHeaders     = []string{"phone", "phone_number", "phonenumber", "phone number", "mobile", "msisdn", "number", "telephone"}
	nameHeaders      = []string{"name", "full_name", "fullname", "full name", "contact_name"}
	firstNameHeaders = []string{"first_name", "firstname", "first name"}
	lastNameHeaders  = []string{"last_name", "lastname", "last name", "surname"}
	notesHeaders     = []string{"notes", "note", "comments", "comment"}
)

// ParseCSV reads a contact sheet with a header row. Rows that cannot be read
// are returned as records without a phone number, so Import counts them as
// failed instead of aborting the batch.
func ParseCSV(r io.Reader) ([]Record, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrNoPhoneColumn
		}
		return nil, fmt.Errorf("contacts: read csv header: %w", err)
	}
	cols, err := detectColumns(header)
	if err != nil {
		return nil, err
	}

	var out []Record
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			out = append(out, Record{})
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("contacts: read csv: %w", err)
		}
		if blank(row) {
			continue
		}
		out = append(out, cols.record(row))
	}
	return out, nil
}

// ParseXLSX reads the first sheet of a workbook with the same header rules as ParseCSV.
func ParseXLSX(r io.Reader) ([]Record, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("contacts: open xlsx: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrNoPhoneColumn
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("contacts: read xlsx: %w", err)
	}
	if len(rows) == 0 {
		return nil, ErrNoPhoneColumn
	}

	cols, err := detectColumns(rows[0])
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if blank(row) {
			continue
		}
		out = append(out, cols.record(row))
	}
	return out, nil
}

// WriteXLSX exports contacts as a single-sheet workbook.
func WriteXLSX(w io.Writer, list []Contact) error {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Sheet1"
	header := []string{"id", "phone_number", "name", "status", "attempt_count", "next_attempt_at", "last_disposition", "notes"}
	for i, h := range header {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return err
		}
	}
	for i, c := range list {
		next := ""
		if c.NextAttemptAt != nil {
			next = c.NextAttemptAt.UTC().Format("2006-01-02T15:04:05Z07:00")
		}
		row := []any{c.ID, c.PhoneNumber, c.Name, string(c.Status), c.AttemptCount, next, c.LastDisposition, c.Notes}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return err
		}
	}
	_, err := f.WriteTo(w)
	return err
}

type columns struct {
	phone, name, first, last, notes int
}

func detectColumns(header []string) (columns, error) {
	cols := columns{
		phone: findColumn(header, phoneHeaders),
		name:  findColumn(header, nameHeaders),
		first: findColumn(header, firstNameHeaders),
		last:  findColumn(header, lastNameHeaders),
		notes: findColumn(header, notesHeaders),
	}
	if cols.phone < 0 {
		return columns{}, ErrNoPhoneColumn
	}
	return cols, nil
}

func (c columns) record(row []string) Record {
	name := cell(row, c.name)
	if name == "" {
		name = strings.TrimSpace(cell(row, c.first) + " " + cell(row, c.last))
	}
	return Record{
		PhoneNumber: cell(row, c.phone),
		Name:        name,
		Notes:       cell(row, c.notes),
	}
}

func findColumn(header, names []string) int {
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		for _, n := range names {
			if h == n {
				return i
			}
		}
	}
	return -1
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func blank(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
