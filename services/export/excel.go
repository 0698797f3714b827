package exportsvc

import (
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/xuri/excelize/v2"

	"github.com/trezcool/masomo-fees/core/fee"
)

const (
	StatementSheet = "Statement"

	xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	dateLayout      = "2006-01-02"
	moneyFormat     = 4 // #,##0.00
)

type excelWriter struct{}

var _ fee.StatementWriter = (*excelWriter)(nil) // interface compliance check

// NewExcelWriter renders fee statements as a single-sheet xlsx workbook.
func NewExcelWriter() fee.StatementWriter {
	return excelWriter{}
}

func (excelWriter) ContentType() string { return xlsxContentType }
func (excelWriter) Extension() string   { return ".xlsx" }

func (excelWriter) WriteStatement(w io.Writer, st fee.Statement) (err error) {
	f := excelize.NewFile()
	defer func() {
		if cErr := f.Close(); err == nil {
			err = cErr
		}
	}()

	if err = f.SetSheetName("Sheet1", StatementSheet); err != nil {
		return errors.Wrap(err, "naming sheet")
	}
	s, err := newSheet(f)
	if err != nil {
		return err
	}

	s.title("Statement of Account")
	s.pair("Student", st.Student.Name)
	s.pair("Grade Level", st.Account.GradeLevelAtAssessment)
	if st.Student.SectionName != "" {
		s.pair("Section", st.Student.SectionName)
	}
	s.pair("Payment Plan", st.Plan.Name)
	s.pair("Currency", st.Currency)
	s.pair("Generated", st.GeneratedAt.Format(dateLayout))
	s.skip()

	s.header("Fees", "Amount")
	for _, li := range st.LineItems {
		s.row(li.Description, money(li.TotalAmount))
	}
	s.total("Total Assessed", money(st.Account.TotalAssessed))
	s.skip()

	if len(st.Discounts) > 0 {
		s.header("Discounts", "Amount")
		for _, d := range st.Discounts {
			s.row(d.DiscountName, money(d.DiscountAmount))
		}
		s.total("Total Discounts", money(st.Account.TotalDiscounts))
		s.skip()
	}

	s.header("Installment", "Due Date", "Amount Due", "Amount Paid", "Status")
	for _, sc := range st.Schedules {
		s.row(sc.Label, sc.DueDate.Format(dateLayout), money(sc.AmountDue), money(sc.AmountPaid), label(string(sc.Status)))
	}
	s.skip()

	if len(st.Payments) > 0 {
		s.header("OR Number", "Date", "Method", "Amount", "Status")
		for _, p := range st.Payments {
			s.row(p.ORNumber, p.PaymentDate.Format(dateLayout), label(p.PaymentMethod), money(p.Amount), label(string(p.Status)))
		}
		s.skip()
	}

	s.total("Total Paid", money(st.Account.TotalPaid))
	if st.Account.TotalLateFees.IsPositive() {
		s.total("Late Fees", money(st.Account.TotalLateFees))
	}
	s.total("Current Balance", money(st.Account.CurrentBalance))

	if s.err != nil {
		return errors.Wrap(s.err, "filling statement")
	}
	if err = f.SetColWidth(StatementSheet, "A", "A", 36); err != nil {
		return errors.Wrap(err, "sizing columns")
	}
	if err = f.SetColWidth(StatementSheet, "B", "E", 16); err != nil {
		return errors.Wrap(err, "sizing columns")
	}
	return errors.Wrap(f.Write(w), "writing workbook")
}

// money marks a cell as an amount.
type money interface{ InexactFloat64() float64 }

// sheet writes rows top to bottom, keeping the first error.
type sheet struct {
	f                 *excelize.File
	n                 int
	bold, money, both int
	err               error
}

func newSheet(f *excelize.File) (*sheet, error) {
	s := &sheet{f: f, n: 1}
	var err error
	if s.bold, err = f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}}); err != nil {
		return nil, errors.Wrap(err, "creating style")
	}
	if s.money, err = f.NewStyle(&excelize.Style{NumFmt: moneyFormat}); err != nil {
		return nil, errors.Wrap(err, "creating style")
	}
	if s.both, err = f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}, NumFmt: moneyFormat}); err != nil {
		return nil, errors.Wrap(err, "creating style")
	}
	return s, nil
}

func (s *sheet) set(col int, v interface{}, style int) {
	if s.err != nil {
		return
	}
	cell, err := excelize.CoordinatesToCellName(col, s.n)
	if err != nil {
		s.err = err
		return
	}
	if m, ok := v.(money); ok {
		v = m.InexactFloat64()
	}
	if s.err = s.f.SetCellValue(StatementSheet, cell, v); s.err == nil && style != 0 {
		s.err = s.f.SetCellStyle(StatementSheet, cell, cell, style)
	}
}

func (s *sheet) write(values []interface{}, plain, amount int) {
	for i, v := range values {
		style := plain
		if _, ok := v.(money); ok {
			style = amount
		}
		s.set(i+1, v, style)
	}
	s.n++
}

func (s *sheet) title(t string) {
	s.write([]interface{}{t}, s.bold, s.both)
	s.skip()
}

func (s *sheet) pair(k string, v interface{})  { s.write([]interface{}{k, v}, 0, s.money) }
func (s *sheet) row(values ...interface{})     { s.write(values, 0, s.money) }
func (s *sheet) total(k string, v interface{}) { s.write([]interface{}{k, v}, s.bold, s.both) }
func (s *sheet) skip()                         { s.n++ }

func (s *sheet) header(titles ...string) {
	values := make([]interface{}, 0, len(titles))
	for _, t := range titles {
		values = append(values, t)
	}
	s.write(values, s.bold, s.bold)
}

// label turns "bank_transfer" into "Bank Transfer".
func label(s string) string {
	words := strings.Fields(strings.ReplaceAll(s, "_", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
