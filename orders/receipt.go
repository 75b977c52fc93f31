package orders

import (
	"bytes"
	"fmt"
	"time"

	"farmstand/models"

	"github.com/phpdave11/gofpdf"
	"github.com/skip2/go-qrcode"
)

// RenderReceipt draws a one-page PDF receipt with a QR code of the order id.
func RenderReceipt(o *models.Order, issued time.Time) ([]byte, error) {
	qr, err := qrcode.Encode("order:"+o.ID.Hex(), qrcode.Medium, 128)
	if err != nil {
		return nil, fmt.Errorf("qr: %w", err)
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(20, 20, 20)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 20)
	pdf.CellFormat(0, 15, "Order Receipt", "", 1, "C", false, 0, "")
	pdf.Ln(4)

	pdf.SetFont("Arial", "", 11)
	a := o.ShippingAddress
	pdf.MultiCell(120, 7, fmt.Sprintf(
		"Order: #%s\nPlaced: %s\nStatus: %s\nPayment: %s (%s)\nShip to: %s, %s, %s %s\nIssued: %s",
		shortID(o.ID),
		o.CreatedAt.Format("02 Jan 2006 15:04"),
		o.Status,
		o.PaymentStatus, o.PaymentMethod,
		a.Street, a.City, a.State, a.ZipCode,
		issued.Format("02 Jan 2006 15:04"),
	), "", "L", false)

	imgOpts := gofpdf.ImageOptions{ImageType: "png"}
	pdf.RegisterImageOptionsReader("qr", imgOpts, bytes.NewReader(qr))
	pdf.ImageOptions("qr", 150, 30, 40, 40, false, imgOpts, 0, "")

	pdf.SetY(80)
	pdf.SetFont("Arial", "B", 11)
	pdf.SetFillColor(235, 245, 235)
	pdf.CellFormat(90, 8, "Item", "1", 0, "L", true, 0, "")
	pdf.CellFormat(25, 8, "Qty", "1", 0, "R", true, 0, "")
	pdf.CellFormat(25, 8, "Price", "1", 0, "R", true, 0, "")
	pdf.CellFormat(30, 8, "Subtotal", "1", 1, "R", true, 0, "")

	pdf.SetFont("Arial", "", 11)
	for _, it := range o.Items {
		pdf.CellFormat(90, 8, it.Name, "1", 0, "L", false, 0, "")
		pdf.CellFormat(25, 8, fmt.Sprintf("%d", it.Quantity), "1", 0, "R", false, 0, "")
		pdf.CellFormat(25, 8, fmt.Sprintf("%.2f", it.Price), "1", 0, "R", false, 0, "")
		line := models.ComputeTotal([]models.OrderItem{it})
		pdf.CellFormat(30, 8, fmt.Sprintf("%.2f", line), "1", 1, "R", false, 0, "")
	}
	pdf.SetFont("Arial", "B", 11)
	pdf.CellFormat(140, 9, "Total", "1", 0, "R", false, 0, "")
	pdf.CellFormat(30, 9, fmt.Sprintf("%.2f", o.TotalAmount), "1", 1, "R", false, 0, "")

	pdf.SetY(-30)
	pdf.SetFont("Arial", "I", 9)
	pdf.CellFormat(0, 10, "Thank you for buying direct from local farms.", "T", 0, "C", false, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
