package interfaces

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	fees "schoolfees-cloud/internal/fees/domain"
)

// BuildStatementPDF renders a printable fee statement for one obligation.
func BuildStatementPDF(snapshot *fees.FeeStatusSnapshot, payments []fees.PaymentEvent) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Fee Statement")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Account: %s", snapshot.AccountID()))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Term: %s", snapshot.Period().Term))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Session: %s", snapshot.Period().Session))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Status: %s", snapshot.Status()))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", time.Now().UTC().Format(time.RFC3339)))
	pdf.Ln(5)
	if !snapshot.LastPaymentAt().IsZero() {
		pdf.Cell(0, 6, fmt.Sprintf("Last payment: %s (%s)", snapshot.LastPaymentRef(), snapshot.LastPaymentAt().Format("2006-01-02")))
		pdf.Ln(5)
	}

	pdf.Ln(4)
	pdf.Cell(0, 6, fmt.Sprintf("Total Due: %.2f", snapshot.TotalDue()))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Total Paid: %.2f", snapshot.TotalPaid()))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Balance: %.2f", snapshot.Balance()))
	pdf.Ln(8)

	// Payments table
	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(30, 6, "Date", "1", 0, "C", false, 0, "")
	pdf.CellFormat(55, 6, "Receipt", "1", 0, "C", false, 0, "")
	pdf.CellFormat(35, 6, "Method", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Amount", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 10)
	for _, payment := range payments {
		pdf.CellFormat(30, 6, payment.PaidAt.Format("2006-01-02"), "1", 0, "C", false, 0, "")
		pdf.CellFormat(55, 6, payment.ReceiptNumber, "1", 0, "C", false, 0, "")
		pdf.CellFormat(35, 6, string(payment.Method), "1", 0, "C", false, 0, "")
		pdf.CellFormat(30, 6, fmt.Sprintf("%.2f", payment.Amount), "1", 0, "R", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	err := pdf.Output(&buf)
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildReceiptPDF renders a single payment receipt. The snapshot section is
// the account position at render time, not at collection time.
func BuildReceiptPDF(payment fees.PaymentEvent, snapshot *fees.FeeStatusSnapshot) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Payment Receipt")
	pdf.Ln(10)
	pdf.SetFont("Arial", "B", 11)
	pdf.Cell(0, 6, payment.ReceiptNumber)
	pdf.Ln(8)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Account: %s", payment.AccountID))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Term: %s", payment.Term))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Session: %s", payment.Session))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Amount: %.2f", payment.Amount))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Method: %s", payment.Method))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Paid: %s", payment.PaidAt.Format(time.RFC3339)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Recorded by: %s", payment.RecordedBy))
	pdf.Ln(8)

	if snapshot != nil {
		pdf.Cell(0, 6, fmt.Sprintf("Total Due: %.2f", snapshot.TotalDue()))
		pdf.Ln(5)
		pdf.Cell(0, 6, fmt.Sprintf("Total Paid: %.2f", snapshot.TotalPaid()))
		pdf.Ln(5)
		pdf.Cell(0, 6, fmt.Sprintf("Balance: %.2f", snapshot.Balance()))
		pdf.Ln(5)
		pdf.Cell(0, 6, fmt.Sprintf("Status: %s", snapshot.Status()))
		pdf.Ln(5)
	}

	var buf bytes.Buffer
	err := pdf.Output(&buf)
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildStatementXLSX renders a workbook with a summary and a payments sheet.
func BuildStatementXLSX(snapshot *fees.FeeStatusSnapshot, payments []fees.PaymentEvent) ([]byte, error) {
	f := excelize.NewFile()
	summarySheet := "summary"
	paymentsSheet := "payments"
	f.SetSheetName("Sheet1", summarySheet)
	f.NewSheet(paymentsSheet)

	_ = f.SetCellValue(summarySheet, "A1", "Fee Statement")
	_ = f.SetCellValue(summarySheet, "A3", "Account")
	_ = f.SetCellValue(summarySheet, "B3", snapshot.AccountID())
	_ = f.SetCellValue(summarySheet, "A4", "Term")
	_ = f.SetCellValue(summarySheet, "B4", snapshot.Period().Term)
	_ = f.SetCellValue(summarySheet, "A5", "Session")
	_ = f.SetCellValue(summarySheet, "B5", snapshot.Period().Session)
	_ = f.SetCellValue(summarySheet, "A6", "Status")
	_ = f.SetCellValue(summarySheet, "B6", string(snapshot.Status()))
	_ = f.SetCellValue(summarySheet, "A7", "Total Due")
	_ = f.SetCellValue(summarySheet, "B7", snapshot.TotalDue())
	_ = f.SetCellValue(summarySheet, "A8", "Total Paid")
	_ = f.SetCellValue(summarySheet, "B8", snapshot.TotalPaid())
	_ = f.SetCellValue(summarySheet, "A9", "Balance")
	_ = f.SetCellValue(summarySheet, "B9", snapshot.Balance())
	_ = f.SetCellValue(summarySheet, "A10", "Last Payment")
	_ = f.SetCellValue(summarySheet, "B10", snapshot.LastPaymentRef())

	_ = f.SetCellValue(paymentsSheet, "A1", "Date")
	_ = f.SetCellValue(paymentsSheet, "B1", "Receipt")
	_ = f.SetCellValue(paymentsSheet, "C1", "Method")
	_ = f.SetCellValue(paymentsSheet, "D1", "Amount")
	_ = f.SetCellValue(paymentsSheet, "E1", "Recorded By")
	for i, payment := range payments {
		row := i + 2
		_ = f.SetCellValue(paymentsSheet, fmt.Sprintf("A%d", row), payment.PaidAt.Format("2006-01-02"))
		_ = f.SetCellValue(paymentsSheet, fmt.Sprintf("B%d", row), payment.ReceiptNumber)
		_ = f.SetCellValue(paymentsSheet, fmt.Sprintf("C%d", row), string(payment.Method))
		_ = f.SetCellValue(paymentsSheet, fmt.Sprintf("D%d", row), payment.Amount)
		_ = f.SetCellValue(paymentsSheet, fmt.Sprintf("E%d", row), payment.RecordedBy)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
