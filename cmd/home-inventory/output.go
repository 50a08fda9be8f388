package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/zombor/home-inventory/internal/parser"
	"github.com/zombor/home-inventory/internal/receipt"
)

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	return nil
}

func money(cents *int) string {
	if cents == nil {
		return "-"
	}
	return parser.FormatCents(*cents)
}

func (a *app) printDraft(d *receipt.Draft) {
	r := d.Receipt
	fmt.Fprintf(a.out, "receipt %s  status=%s  level=%s\n", r.ID, r.Status, r.PreprocessLevel)
	if r.MerchantName != nil {
		fmt.Fprintf(a.out, "merchant: %s\n", *r.MerchantName)
	}
	if r.ReceiptDate != nil {
		fmt.Fprintf(a.out, "date:     %s\n", r.ReceiptDate.Format("2006-01-02"))
	}
	if r.TotalAmount != nil {
		fmt.Fprintf(a.out, "total:    %s\n", money(r.TotalAmount))
	}
	if r.Confidence != nil {
		fmt.Fprintf(a.out, "confidence: %.2f\n", *r.Confidence)
	}
	for _, w := range r.Warnings {
		fmt.Fprintf(a.out, "warning: %s\n", w)
	}
	if r.FailureReason != "" {
		fmt.Fprintf(a.out, "failed: %s\n", r.FailureReason)
	}
	if r.NextAction != "" {
		fmt.Fprintf(a.out, "next action: %s\n", r.NextAction)
	}
	if len(d.Items) > 0 {
		a.printItems(d.Items)
	}
}

func (a *app) printItems(items []*receipt.ExtractedItem) {
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tQTY\tUNIT\tTOTAL\tCONF\tSTATUS")
	for _, it := range items {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%.2f %s\t%s\n",
			it.ID, it.Name, it.Quantity, money(it.UnitPrice), money(it.TotalPrice),
			it.Confidence, it.Bucket, it.Status)
	}
	tw.Flush()
}

func (a *app) printReceipts(receipts []*receipt.Receipt) {
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCREATED\tMERCHANT\tTOTAL\tSTATUS")
	for _, r := range receipts {
		merchant := "-"
		if r.MerchantName != nil {
			merchant = *r.MerchantName
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.CreatedAt.Format("2006-01-02 15:04"), merchant, money(r.TotalAmount), r.Status)
	}
	tw.Flush()
}

func (a *app) printInventory(items []*receipt.InventoryItem) {
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tQTY\tPRICE\tCATEGORY\tLOCATION\tRECEIPT")
	for _, it := range items {
		source := "-"
		if it.ReceiptID != nil {
			source = *it.ReceiptID
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
			it.ID, it.Name, it.Quantity, money(it.PurchasePrice), it.CategoryID, it.LocationID, source)
	}
	tw.Flush()
}

func (a *app) printFailures(failed []receipt.FailedItem) {
	for _, f := range failed {
		for _, e := range f.Errors {
			fmt.Fprintf(a.out, "item %s: %s %s\n", f.ExtractedItemID, e.Field, e.Message)
		}
	}
}

func (a *app) printConfirmation(result *receipt.ConfirmResult) {
	fmt.Fprintf(a.out, "receipt %s confirmed: %d created, %d failed\n",
		result.Receipt.ID, len(result.Created), len(result.Failed))
	a.printFailures(result.Failed)
	for _, id := range result.Unsubmitted {
		fmt.Fprintf(a.out, "item %s was not submitted and stays pending\n", id)
	}
}
