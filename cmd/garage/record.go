package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/motogarage/garage/internal/offline/schema"
	"github.com/motogarage/garage/internal/offline/store"
	"github.com/motogarage/garage/internal/ui"
)

// dueField holds the parsed --due date.
const dueField = "due_at"

// promptFields are asked for by an interactive create.
var promptFields = map[schema.Kind][]string{
	schema.KindJob:      {"title", "bike_id", "customer_id", "notes"},
	schema.KindCustomer: {"name", "phone", "email"},
	schema.KindService:  {"name", "price"},
	schema.KindBike:     {"make", "model", "year", "customer_id"},
}

var recordCmd = &cobra.Command{
	Use:     "record",
	GroupID: "records",
	Short:   "Create, update, delete and list local records",
	Long: `Work with the local copy of jobs, customers, services and bikes.

Changes apply locally at once and are queued for the backend. While online
they are sent immediately; otherwise the next sync sends them in order.

Field values given with --set are parsed as JSON when possible, so
--set price=120 stores a number and --set name=Alice a string.`,
}

var recordCreateCmd = &cobra.Command{
	Use:   "create <kind>",
	Short: "Create a record",
	Example: `  garage record create customer --set name="Alice Moto" --set phone=0612345678
  garage record create job --set title="Chain swap" --set bike_id=bike-12 --due "next friday"
  garage record create bike          # prompts for fields`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		kind := mustKind(args[0])
		fields := mustFields(cmd)

		if len(fields) == 0 {
			if !ui.IsTerminal(os.Stdin) {
				fmt.Fprintf(os.Stderr, "Error: no fields given (use --set key=value)\n")
				os.Exit(1)
			}
			prompted, err := promptForFields(kind)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			fields = prompted
		}

		a := mustOpenApp()
		defer a.Close()

		rec, err := a.store.Create(kind, fields)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating %s: %v\n", kind, err)
			os.Exit(1)
		}
		a.engine.Wait()

		fmt.Printf("%s Created %s %s\n", ui.RenderPass("✓"), kind, rec.ID)
		printSyncState(a, rec.ID)
	},
}

var recordUpdateCmd = &cobra.Command{
	Use:   "update <kind> <id>",
	Short: "Update fields of a record",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		kind := mustKind(args[0])
		fields := mustFields(cmd)
		if len(fields) == 0 {
			fmt.Fprintf(os.Stderr, "Error: no fields given (use --set key=value)\n")
			os.Exit(1)
		}

		a := mustOpenApp()
		defer a.Close()

		rec, err := a.store.Update(kind, args[1], fields)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error updating %s %s: %v\n", kind, args[1], err)
			os.Exit(1)
		}
		a.engine.Wait()

		fmt.Printf("%s Updated %s %s\n", ui.RenderPass("✓"), kind, rec.ID)
		printSyncState(a, rec.ID)
	},
}

var recordDeleteCmd = &cobra.Command{
	Use:   "delete <kind> <id>",
	Short: "Delete a record",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		kind := mustKind(args[0])

		a := mustOpenApp()
		defer a.Close()

		if err := a.store.Delete(kind, args[1]); err != nil {
			fmt.Fprintf(os.Stderr, "Error deleting %s %s: %v\n", kind, args[1], err)
			os.Exit(1)
		}
		a.engine.Wait()

		fmt.Printf("%s Deleted %s %s\n", ui.RenderPass("✓"), kind, args[1])
		printSyncState(a, args[1])
	},
}

var recordListCmd = &cobra.Command{
	Use:   "list <kind>",
	Short: "List local records of a kind",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		kind := mustKind(args[0])

		a := mustOpenApp()
		defer a.Close()

		records, err := a.store.List(kind)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error listing %s: %v\n", kind.Plural(), err)
			os.Exit(1)
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(records); err != nil {
				fmt.Fprintf(os.Stderr, "Error encoding records: %v\n", err)
				os.Exit(1)
			}
			return
		}

		if len(records) == 0 {
			fmt.Printf("No %s\n", kind.Plural())
			return
		}
		for _, rec := range records {
			marker := ""
			if a.queue.PendingFor(kind, rec.ID) {
				marker = " " + ui.RenderWarn("(pending)")
			}
			fmt.Printf("%s%s\n", ui.RenderAccent(rec.ID), marker)
			fmt.Print(ui.KeyValue(fieldRows(rec.Fields)))
		}
	},
}

var recordGetCmd = &cobra.Command{
	Use:   "get <kind> <id>",
	Short: "Show one local record",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		kind := mustKind(args[0])

		a := mustOpenApp()
		defer a.Close()

		rec, err := a.store.Get(kind, args[1])
		if errors.Is(err, store.ErrNotFound) {
			fmt.Fprintf(os.Stderr, "Error: %s %s not found\n", kind, args[1])
			os.Exit(1)
		} else if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		data, _ := json.MarshalIndent(rec, "", "  ")
		fmt.Println(string(data))
	},
}

func mustKind(s string) schema.Kind {
	kind, err := schema.ParseKind(s)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return kind
}

func mustFields(cmd *cobra.Command) map[string]any {
	sets, _ := cmd.Flags().GetStringArray("set")
	fields, err := parseSets(sets)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if due, _ := cmd.Flags().GetString("due"); due != "" {
		at, err := parseDue(due, time.Now())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fields[dueField] = at.UTC().Format(time.RFC3339)
	}
	return fields
}

// parseSets turns key=value pairs into fields. Values that parse as JSON
// keep their JSON type; anything else is a string.
func parseSets(sets []string) (map[string]any, error) {
	fields := make(map[string]any, len(sets))
	for _, s := range sets {
		key, value, ok := strings.Cut(s, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --set %q (want key=value)", s)
		}
		if key == "id" {
			return nil, fmt.Errorf("the id field cannot be set")
		}
		fields[key] = parseValue(value)
	}
	return fields, nil
}

func parseValue(s string) any {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		return v
	}
	return s
}

// dueParser understands English dates like "tomorrow 9am" or "next friday".
var dueParser = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}()

// parseDue accepts an RFC 3339 timestamp, a YYYY-MM-DD date or a natural
// language expression relative to base.
func parseDue(s string, base time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02", s, base.Location()); err == nil {
		return t, nil
	}
	r, err := dueParser.Parse(s, base)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse due date %q: %w", s, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("unrecognised due date %q", s)
	}
	return r.Time, nil
}

func promptForFields(kind schema.Kind) (map[string]any, error) {
	names := promptFields[kind]
	values := make([]string, len(names))
	inputs := make([]huh.Field, len(names))
	for i, name := range names {
		inputs[i] = huh.NewInput().Title(name).Value(&values[i])
	}

	form := huh.NewForm(huh.NewGroup(inputs...).Title("New " + string(kind)))
	if err := form.Run(); err != nil {
		return nil, fmt.Errorf("prompt cancelled: %w", err)
	}

	fields := make(map[string]any)
	for i, name := range names {
		if v := strings.TrimSpace(values[i]); v != "" {
			fields[name] = parseValue(v)
		}
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("no fields entered")
	}
	return fields, nil
}

// printSyncState reports whether the change reached the backend.
func printSyncState(a *app, id string) {
	switch {
	case !a.monitor.Online():
		fmt.Printf("   %s offline, queued for the next sync\n", ui.RenderWarn("⚠"))
	case a.store.Resolve(id) != id:
		fmt.Printf("   Synced as %s\n", a.store.Resolve(id))
	case a.queue.Len() == 0:
		fmt.Printf("   Synced\n")
	default:
		fmt.Printf("   Queued: %d change(s) pending\n", a.queue.Len())
	}
}

func fieldRows(fields map[string]any) [][2]string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	rows := make([][2]string, len(keys))
	for i, k := range keys {
		rows[i] = [2]string{k, fmt.Sprint(fields[k])}
	}
	return rows
}

func init() {
	for _, c := range []*cobra.Command{recordCreateCmd, recordUpdateCmd} {
		c.Flags().StringArray("set", nil, "field assignment key=value (repeatable)")
		c.Flags().String("due", "", `due date, e.g. "2026-11-02" or "next friday 9am"`)
	}
	recordListCmd.Flags().Bool("json", false, "print records as JSON")

	recordCmd.AddCommand(recordCreateCmd)
	recordCmd.AddCommand(recordUpdateCmd)
	recordCmd.AddCommand(recordDeleteCmd)
	recordCmd.AddCommand(recordListCmd)
	recordCmd.AddCommand(recordGetCmd)
	rootCmd.AddCommand(recordCmd)
}
