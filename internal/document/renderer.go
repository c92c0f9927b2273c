// Package document is the in-process stand-in for the external rendering
// engine. It writes plain generated documents to disk; the real PDF/QR
// producers sit behind the same interface.
package document

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gtinworks/fulfillment/internal/code"
	"github.com/gtinworks/fulfillment/internal/order"
)

type DiskRenderer struct {
	dir string
}

func NewDiskRenderer(dir string) (*DiskRenderer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create documents dir: %w", err)
	}
	return &DiskRenderer{dir: dir}, nil
}

func (r *DiskRenderer) RenderInvoice(ctx context.Context, o *order.Order, inv *order.Invoice) (string, error) {
	content := fmt.Sprintf("Invoice %s\nOrder %s\nTotal: %s\nVAT: %s\nOverall: %s\n",
		inv.InvoiceNumber, o.OrderNumber, inv.TotalAmount, inv.VAT, inv.OverallAmount)
	return r.write(fmt.Sprintf("invoice-%s.pdf", inv.InvoiceNumber), content)
}

func (r *DiskRenderer) RenderLicense(ctx context.Context, o *order.Order) (string, error) {
	content := fmt.Sprintf("License certificate\nOrder %s\nHolder %s\n", o.OrderNumber, o.UserID)
	return r.write(fmt.Sprintf("license-%s.pdf", o.OrderNumber), content)
}

func (r *DiskRenderer) RenderCertificate(ctx context.Context, a *code.Assignment) (string, error) {
	content := fmt.Sprintf("Code certificate\nAssignment %s\nCode %s\n", a.ID, a.CodeID)
	return r.write(fmt.Sprintf("certificate-%s.pdf", a.ID), content)
}

func (r *DiskRenderer) write(name, content string) (string, error) {
	path := filepath.Join(r.dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("failed to write document %s: %w", name, err)
	}
	return path, nil
}
