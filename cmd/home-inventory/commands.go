package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/peterbourgon/ff/v4"

	"github.com/zombor/home-inventory/internal/eval"
	"github.com/zombor/home-inventory/internal/ocr"
	"github.com/zombor/home-inventory/internal/parser"
	"github.com/zombor/home-inventory/internal/preprocess"
	"github.com/zombor/home-inventory/internal/receipt"
)

// command builds the command tree
func (a *app) command() *ff.Command {
	return &ff.Command{
		Name:      "home-inventory",
		Usage:     "home-inventory [FLAGS] <SUBCOMMAND> ...",
		ShortHelp: "scan receipts into a home inventory",
		Flags:     a.flags,
		Subcommands: []*ff.Command{
			a.scanCommand(),
			a.retryCommand(),
			a.listCommand(),
			a.showCommand(),
			a.editCommand(),
			a.rejectCommand(),
			a.addCommand(),
			a.confirmCommand(),
			a.deleteCommand(),
			a.sweepCommand(),
			a.inventoryCommand(),
			a.categoriesCommand(),
			a.locationsCommand(),
			a.evalCommand(),
		},
	}
}

func exactArgs(args []string, n int, names string) error {
	if len(args) != n {
		return fmt.Errorf("expected %s", names)
	}
	return nil
}

// readUpload loads an image file, guessing its type when the extension
// is not a known one
func readUpload(path string) (receipt.Upload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return receipt.Upload{}, fmt.Errorf("reading image: %w", err)
	}
	contentType := ""
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		contentType = "image/jpeg"
	case ".png":
		contentType = "image/png"
	case ".heic", ".heif":
		contentType = "image/heic"
	case ".pdf":
		contentType = "application/pdf"
	default:
		contentType = http.DetectContentType(data)
	}
	return receipt.Upload{Filename: filepath.Base(path), ContentType: contentType, Data: data}, nil
}

// waitForTask waits for a task, cancelling it if ctx ends first
func waitForTask(ctx context.Context, task *receipt.Task) (*receipt.Draft, error) {
	select {
	case <-task.Done():
	case <-ctx.Done():
		task.Cancel()
	}
	return task.Result()
}

func (a *app) scanCommand() *ff.Command {
	fs := ff.NewFlagSet("scan").SetParent(a.flags)
	level := fs.StringLong("level", "", "Preprocessing level for this scan (defaults to --preprocess)")
	return &ff.Command{
		Name:      "scan",
		Usage:     "home-inventory scan [FLAGS] <image>...",
		ShortHelp: "extract a draft from one or more receipt photos",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("expected at least one image")
			}
			lvl, err := a.preprocessLevel(*level)
			if err != nil {
				return err
			}
			svc, err := a.service(true)
			if err != nil {
				return err
			}
			processor := a.processor(svc)
			defer processor.Close()

			tasks := make([]*receipt.Task, 0, len(args))
			for _, path := range args {
				upload, err := readUpload(path)
				if err != nil {
					return err
				}
				task, err := processor.Submit(ctx, upload, lvl)
				if err != nil {
					return err
				}
				tasks = append(tasks, task)
			}

			var errs []error
			for i, task := range tasks {
				draft, err := waitForTask(ctx, task)
				if draft != nil {
					a.printDraft(draft)
				}
				if err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", args[i], err))
				}
			}
			return errors.Join(errs...)
		},
	}
}

func (a *app) retryCommand() *ff.Command {
	fs := ff.NewFlagSet("retry").SetParent(a.flags)
	level := fs.StringLong("level", "", "Preprocessing level (defaults to the receipt's last level)")
	return &ff.Command{
		Name:      "retry",
		Usage:     "home-inventory retry [FLAGS] <receipt-id>",
		ShortHelp: "re-run OCR on a stored receipt image",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			if err := exactArgs(args, 1, "a receipt ID"); err != nil {
				return err
			}
			var lvl preprocess.Level
			if *level != "" {
				var err error
				if lvl, err = preprocess.ParseLevel(*level); err != nil {
					return err
				}
			}
			svc, err := a.service(true)
			if err != nil {
				return err
			}
			draft, err := svc.Retry(ctx, args[0], lvl)
			if draft != nil {
				a.printDraft(draft)
			}
			return err
		},
	}
}

func (a *app) listCommand() *ff.Command {
	return &ff.Command{
		Name:      "list",
		Usage:     "home-inventory list",
		ShortHelp: "list receipts, newest first",
		Flags:     ff.NewFlagSet("list").SetParent(a.flags),
		Exec: func(ctx context.Context, args []string) error {
			svc, err := a.service(false)
			if err != nil {
				return err
			}
			receipts, err := svc.ListReceipts()
			if err != nil {
				return err
			}
			a.printReceipts(receipts)
			return nil
		},
	}
}

func (a *app) showCommand() *ff.Command {
	fs := ff.NewFlagSet("show").SetParent(a.flags)
	asJSON := fs.BoolLong("json", "Print the draft as JSON")
	return &ff.Command{
		Name:      "show",
		Usage:     "home-inventory show [FLAGS] <receipt-id>",
		ShortHelp: "show a receipt and its extracted items",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			if err := exactArgs(args, 1, "a receipt ID"); err != nil {
				return err
			}
			svc, err := a.service(false)
			if err != nil {
				return err
			}
			draft, err := svc.GetDraft(args[0])
			if err != nil {
				return err
			}
			if *asJSON {
				return a.printJSON(draft)
			}
			a.printDraft(draft)
			return nil
		},
	}
}

// itemEditFlags registers the flags shared by edit and add
func itemEditFlags(fs *ff.FlagSet) func() (receipt.ItemEdit, error) {
	name := fs.StringLong("name", "", "Item name")
	quantity := fs.StringLong("quantity", "", "Quantity")
	unitPrice := fs.StringLong("unit-price", "", "Unit price, e.g. 4.99")
	totalPrice := fs.StringLong("total-price", "", "Line total, e.g. 9.98")

	return func() (receipt.ItemEdit, error) {
		var edit receipt.ItemEdit
		if *name != "" {
			edit.Name = name
		}
		if *quantity != "" {
			q, err := strconv.Atoi(*quantity)
			if err != nil {
				return edit, fmt.Errorf("invalid quantity %q", *quantity)
			}
			edit.Quantity = &q
		}
		for _, p := range []struct {
			raw  string
			dest **int
		}{{*unitPrice, &edit.UnitPrice}, {*totalPrice, &edit.TotalPrice}} {
			if p.raw == "" {
				continue
			}
			cents, ok := parser.NormalizePrice(p.raw)
			if !ok {
				return edit, fmt.Errorf("invalid price %q", p.raw)
			}
			*p.dest = &cents
		}
		return edit, nil
	}
}

func (a *app) editCommand() *ff.Command {
	fs := ff.NewFlagSet("edit").SetParent(a.flags)
	edit := itemEditFlags(fs)
	return &ff.Command{
		Name:      "edit",
		Usage:     "home-inventory edit [FLAGS] <receipt-id> <item-id>",
		ShortHelp: "correct an extracted item",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			if err := exactArgs(args, 2, "a receipt ID and an item ID"); err != nil {
				return err
			}
			e, err := edit()
			if err != nil {
				return err
			}
			svc, err := a.service(false)
			if err != nil {
				return err
			}
			item, err := svc.EditItem(args[0], args[1], e)
			if err != nil {
				return err
			}
			a.printItems([]*receipt.ExtractedItem{item})
			return nil
		},
	}
}

func (a *app) rejectCommand() *ff.Command {
	return &ff.Command{
		Name:      "reject",
		Usage:     "home-inventory reject <receipt-id> <item-id>",
		ShortHelp: "drop an extracted item from confirmation",
		Flags:     ff.NewFlagSet("reject").SetParent(a.flags),
		Exec: func(ctx context.Context, args []string) error {
			if err := exactArgs(args, 2, "a receipt ID and an item ID"); err != nil {
				return err
			}
			svc, err := a.service(false)
			if err != nil {
				return err
			}
			item, err := svc.RejectItem(args[0], args[1])
			if err != nil {
				return err
			}
			a.printItems([]*receipt.ExtractedItem{item})
			return nil
		},
	}
}

func (a *app) addCommand() *ff.Command {
	fs := ff.NewFlagSet("add").SetParent(a.flags)
	edit := itemEditFlags(fs)
	return &ff.Command{
		Name:      "add",
		Usage:     "home-inventory add --name NAME [FLAGS] <receipt-id>",
		ShortHelp: "enter an item by hand",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			if err := exactArgs(args, 1, "a receipt ID"); err != nil {
				return err
			}
			e, err := edit()
			if err != nil {
				return err
			}
			svc, err := a.service(false)
			if err != nil {
				return err
			}
			item, err := svc.AddItem(args[0], e)
			if err != nil {
				return err
			}
			a.printItems([]*receipt.ExtractedItem{item})
			return nil
		},
	}
}

func (a *app) confirmCommand() *ff.Command {
	fs := ff.NewFlagSet("confirm").SetParent(a.flags)
	file := fs.StringLong("file", "", "JSON array of items to confirm, or - for stdin")
	all := fs.BoolLong("all", "Confirm every item that was not rejected, as reviewed")
	category := fs.StringLong("category", "", "Category ID for --all")
	location := fs.StringLong("location", "", "Location ID for --all")
	return &ff.Command{
		Name:      "confirm",
		Usage:     "home-inventory confirm (--file FILE | --all --category ID --location ID) <receipt-id>",
		ShortHelp: "create inventory items from a reviewed receipt",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			if err := exactArgs(args, 1, "a receipt ID"); err != nil {
				return err
			}
			svc, err := a.service(false)
			if err != nil {
				return err
			}

			var inputs []receipt.ConfirmedItemInput
			switch {
			case *file != "":
				if inputs, err = readInputs(*file); err != nil {
					return err
				}
			case *all:
				draft, err := svc.GetDraft(args[0])
				if err != nil {
					return err
				}
				for _, item := range draft.Items {
					if item.Status == receipt.ItemRejected || item.Status == receipt.ItemConfirmed {
						continue
					}
					inputs = append(inputs, receipt.ConfirmedItemInput{
						ExtractedItemID: item.ID,
						Name:            item.Name,
						Quantity:        item.Quantity,
						CategoryID:      *category,
						LocationID:      *location,
					})
				}
			default:
				return fmt.Errorf("either --file or --all is required")
			}

			result, err := svc.Confirm(ctx, args[0], inputs)
			if err != nil {
				var itemErrs receipt.ItemErrors
				if errors.As(err, &itemErrs) {
					a.printFailures(itemErrs)
				}
				return err
			}
			a.printConfirmation(result)
			return nil
		},
	}
}

func readInputs(path string) ([]receipt.ConfirmedItemInput, error) {
	var (
		r   io.Reader = os.Stdin
		err error
	)
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("opening confirmation file: %w", err)
		}
		defer f.Close()
		r = f
	}

	var inputs []receipt.ConfirmedItemInput
	if err = json.NewDecoder(r).Decode(&inputs); err != nil {
		return nil, fmt.Errorf("decoding confirmation file: %w", err)
	}
	return inputs, nil
}

func (a *app) deleteCommand() *ff.Command {
	fs := ff.NewFlagSet("delete").SetParent(a.flags)
	yes := fs.BoolLong("yes", "Acknowledge that inventory items will lose their link to the receipt")
	return &ff.Command{
		Name:      "delete",
		Usage:     "home-inventory delete [--yes] <receipt-id>",
		ShortHelp: "delete a receipt, its items and its image",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			if err := exactArgs(args, 1, "a receipt ID"); err != nil {
				return err
			}
			svc, err := a.service(false)
			if err != nil {
				return err
			}
			unlinked, err := svc.DeleteReceipt(args[0], *yes)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "deleted %s (%d inventory items unlinked)\n", args[0], unlinked)
			return nil
		},
	}
}

func (a *app) sweepCommand() *ff.Command {
	return &ff.Command{
		Name:      "sweep",
		Usage:     "home-inventory sweep",
		ShortHelp: "delete receipt images past their expiry",
		Flags:     ff.NewFlagSet("sweep").SetParent(a.flags),
		Exec: func(ctx context.Context, args []string) error {
			svc, err := a.service(false)
			if err != nil {
				return err
			}
			swept, err := svc.SweepExpiredImages()
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "removed %d expired images\n", swept)
			return nil
		},
	}
}

func (a *app) inventoryCommand() *ff.Command {
	return &ff.Command{
		Name:      "inventory",
		Usage:     "home-inventory inventory",
		ShortHelp: "list inventory items",
		Flags:     ff.NewFlagSet("inventory").SetParent(a.flags),
		Exec: func(ctx context.Context, args []string) error {
			svc, err := a.service(false)
			if err != nil {
				return err
			}
			items, err := svc.ListInventory()
			if err != nil {
				return err
			}
			a.printInventory(items)
			return nil
		},
	}
}

func (a *app) categoriesCommand() *ff.Command {
	parent := ff.NewFlagSet("categories").SetParent(a.flags)
	addFlags := ff.NewFlagSet("add").SetParent(parent)
	parentID := addFlags.StringLong("parent", "", "Parent category ID")

	return &ff.Command{
		Name:      "categories",
		Usage:     "home-inventory categories <add|list>",
		ShortHelp: "manage inventory categories",
		Flags:     parent,
		Subcommands: []*ff.Command{
			{
				Name:      "add",
				Usage:     "home-inventory categories add [--parent ID] <name>",
				ShortHelp: "create a category",
				Flags:     addFlags,
				Exec: func(ctx context.Context, args []string) error {
					if len(args) == 0 {
						return fmt.Errorf("expected a category name")
					}
					svc, err := a.service(false)
					if err != nil {
						return err
					}
					category, err := svc.AddCategory(strings.Join(args, " "), *parentID)
					if err != nil {
						return err
					}
					fmt.Fprintf(a.out, "%s\t%s\n", category.ID, category.Name)
					return nil
				},
			},
			{
				Name:      "list",
				Usage:     "home-inventory categories list",
				ShortHelp: "list categories",
				Flags:     ff.NewFlagSet("list").SetParent(parent),
				Exec: func(ctx context.Context, args []string) error {
					svc, err := a.service(false)
					if err != nil {
						return err
					}
					categories, err := svc.ListCategories()
					if err != nil {
						return err
					}
					for _, c := range categories {
						fmt.Fprintf(a.out, "%s\t%s\t%s\n", c.ID, c.Name, c.ParentID)
					}
					return nil
				},
			},
		},
	}
}

func (a *app) locationsCommand() *ff.Command {
	parent := ff.NewFlagSet("locations").SetParent(a.flags)
	addFlags := ff.NewFlagSet("add").SetParent(parent)
	description := addFlags.StringLong("description", "", "Where exactly")

	return &ff.Command{
		Name:      "locations",
		Usage:     "home-inventory locations <add|list>",
		ShortHelp: "manage storage locations",
		Flags:     parent,
		Subcommands: []*ff.Command{
			{
				Name:      "add",
				Usage:     "home-inventory locations add [--description TEXT] <name>",
				ShortHelp: "create a location",
				Flags:     addFlags,
				Exec: func(ctx context.Context, args []string) error {
					if len(args) == 0 {
						return fmt.Errorf("expected a location name")
					}
					svc, err := a.service(false)
					if err != nil {
						return err
					}
					location, err := svc.AddLocation(strings.Join(args, " "), *description)
					if err != nil {
						return err
					}
					fmt.Fprintf(a.out, "%s\t%s\n", location.ID, location.Name)
					return nil
				},
			},
			{
				Name:      "list",
				Usage:     "home-inventory locations list",
				ShortHelp: "list locations",
				Flags:     ff.NewFlagSet("list").SetParent(parent),
				Exec: func(ctx context.Context, args []string) error {
					svc, err := a.service(false)
					if err != nil {
						return err
					}
					locations, err := svc.ListLocations()
					if err != nil {
						return err
					}
					for _, l := range locations {
						fmt.Fprintf(a.out, "%s\t%s\t%s\n", l.ID, l.Name, l.Description)
					}
					return nil
				},
			},
		},
	}
}

func (a *app) evalCommand() *ff.Command {
	fs := ff.NewFlagSet("eval").SetParent(a.flags)
	out := fs.StringLong("out", "", "Write the YAML report to this file instead of stdout")
	levels := fs.StringLong("levels", "none,quick,full", "Comma-separated preprocessing levels to compare")
	return &ff.Command{
		Name:      "eval",
		Usage:     "home-inventory eval [FLAGS] <sample-dir>",
		ShortHelp: "measure OCR accuracy per preprocessing level",
		LongHelp:  "Each image in the sample directory needs a .txt transcription with the same base name.",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			if err := exactArgs(args, 1, "a sample directory"); err != nil {
				return err
			}
			var lvls []preprocess.Level
			for _, name := range strings.Split(*levels, ",") {
				lvl, err := preprocess.ParseLevel(name)
				if err != nil {
					return err
				}
				lvls = append(lvls, lvl)
			}
			opts, err := a.ocrOptions()
			if err != nil {
				return err
			}
			engine, err := a.openEngine()
			if err != nil {
				return err
			}
			samples, err := eval.LoadSamples(args[0])
			if err != nil {
				return err
			}

			report, err := eval.New(ocr.NewRecognizer(engine, *a.ocrTimeout), opts, lvls...).Run(ctx, samples)
			if err != nil {
				return err
			}
			if *out != "" {
				return report.SaveYAML(*out)
			}
			return report.WriteYAML(a.out)
		},
	}
}
