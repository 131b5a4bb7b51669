// Package main provides the norm CLI entry point.
package main

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/orneryd/norm/pkg/audit"
	"github.com/orneryd/norm/pkg/domain"
	"github.com/orneryd/norm/pkg/mapping"
	"github.com/orneryd/norm/pkg/unitofwork"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "norm",
		Short: "norm - unit of work with bidirectional one-to-many relations",
		Long: `norm loads objects and their one-to-many relations from storage,
keeps both sides of every relation in sync while you change them and
commits the result in one atomic batch.

Commands work on the storage engine named in the configuration:
  • seed     store objects and foreign keys from a fixtures file
  • list     show a collection or a reference of an object
  • move     add an object to another owner's collection
  • export   write the loaded state of a collection to a file
  • import   commit a staged export
  • history  show the journaled relation changes of an object`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().String("config", "", "Config file (default $NORM_CONFIG)")
	rootCmd.PersistentFlags().String("engine", "", "Storage engine: memory, wal or badger")
	rootCmd.PersistentFlags().String("data-dir", "", "Data directory of the badger or wal engine")
	rootCmd.PersistentFlags().String("mapping", "", "Relation mapping file")
	rootCmd.PersistentFlags().Bool("metrics", false, "Print unit of work metrics when done")

	// Version command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "norm v%s (%s)\n", version, commit)
		},
	})

	seedCmd := &cobra.Command{
		Use:   "seed",
		Short: "Store objects and foreign keys from a fixtures file",
		RunE:  runSeed,
	}
	seedCmd.Flags().String("fixtures", "./fixtures.yaml", "Fixtures file")
	rootCmd.AddCommand(seedCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "list <object-id> <property>",
		Short: "Show a collection or reference of an object",
		Args:  cobra.ExactArgs(2),
		RunE:  runList,
	})

	moveCmd := &cobra.Command{
		Use:   "move <object-id> <property> <new-owner-id>",
		Short: "Add an object to the collection <property> of a new owner",
		Long: `Add an object to the collection <property> of a new owner. The object
leaves the collection of its previous owner. With "-" as the new owner,
<property> names the reference property of the object and the object is
only detached.`,
		Args: cobra.ExactArgs(3),
		RunE: runMove,
	}
	moveCmd.Flags().String("stage", "", "Write the change to this file instead of committing it")
	rootCmd.AddCommand(moveCmd)

	exportCmd := &cobra.Command{
		Use:   "export <object-id> <property>",
		Short: "Load a collection and export the transaction",
		Args:  cobra.ExactArgs(2),
		RunE:  runExport,
	}
	exportCmd.Flags().String("out", "./export.norm", "Output file")
	rootCmd.AddCommand(exportCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "import <file>",
		Short: "Import an exported transaction and commit it",
		Args:  cobra.ExactArgs(1),
		RunE:  runImport,
	})

	historyCmd := &cobra.Command{
		Use:   "history <object-id>",
		Short: "Show the journaled relation changes of an object",
		Args:  cobra.ExactArgs(1),
		RunE:  runHistory,
	}
	historyCmd.Flags().Duration("since", 0, "Only show changes newer than this")
	historyCmd.Flags().Int("limit", 50, "Maximum number of changes")
	rootCmd.AddCommand(historyCmd)

	return rootCmd
}

// withApp opens the app for one command and closes it afterwards.
func withApp(cmd *cobra.Command, fn func(a *app) error) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	if err := fn(a); err != nil {
		a.logger.Error("command failed", zap.String("command", cmd.Name()), zap.Error(err))
		return err
	}
	if printMetrics, _ := cmd.Flags().GetBool("metrics"); printMetrics {
		return a.printMetrics(cmd)
	}
	return nil
}

func runSeed(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("fixtures")
	return withApp(cmd, func(a *app) error {
		f, err := loadFixtures(path)
		if err != nil {
			return fmt.Errorf("loading fixtures: %w", err)
		}
		b, err := f.batch(a.registry)
		if err != nil {
			return err
		}
		if err := a.engine.Apply(b); err != nil {
			return fmt.Errorf("storing fixtures: %w", err)
		}
		records, _ := a.engine.RecordCount()
		links, _ := a.engine.LinkCount()
		fmt.Fprintf(cmd.OutOrStdout(), "✅ Seeded %d objects (%d records, %d links stored)\n", len(f.Objects), records, links)
		return nil
	})
}

func runList(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(a *app) error {
		tx, err := a.newTransaction("list")
		if err != nil {
			return err
		}
		defer tx.Discard()

		obj, def, err := a.lookup(tx, args[0], args[1])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()

		if !def.IsCollection() {
			related, err := tx.GetRelated(obj, args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s.%s -> %s\n", obj.ID(), args[1], objectLabel(related))
			return nil
		}

		items, err := tx.Collection(obj, args[1])
		if err != nil {
			return err
		}
		members, err := items.Objects()
		if err != nil {
			return err
		}
		synchronized, err := tx.IsSynchronized(obj, args[1])
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s (%d items, complete: %v, synchronized: %v)\n",
			items.EndPointID(), len(members), items.IsDataComplete(), synchronized)
		for i, m := range members {
			fmt.Fprintf(out, "  [%d] %s\n", i, m.ID())
		}
		return nil
	})
}

func runMove(cmd *cobra.Command, args []string) error {
	stage, _ := cmd.Flags().GetString("stage")
	return withApp(cmd, func(a *app) error {
		tx, err := a.newTransaction("move")
		if err != nil {
			return err
		}
		defer tx.Discard()

		obj, err := a.object(tx, args[0])
		if err != nil {
			return err
		}

		if args[2] == "-" {
			if err := tx.SetRelated(obj, args[1], nil); err != nil {
				return err
			}
		} else {
			owner, def, err := a.lookup(tx, args[2], args[1])
			if err != nil {
				return err
			}
			if !def.IsCollection() {
				return fmt.Errorf("%s is not a collection", def.ID())
			}
			items, err := tx.Collection(owner, args[1])
			if err != nil {
				return err
			}
			if err := items.Add(obj); err != nil {
				return err
			}
		}

		if stage != "" {
			return a.writeExport(cmd, tx, stage, "move")
		}
		if err := a.commit(tx, "move"); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✅ Moved %s to %s\n", obj.ID(), args[2])
		return nil
	})
}

func runExport(cmd *cobra.Command, args []string) error {
	out, _ := cmd.Flags().GetString("out")
	return withApp(cmd, func(a *app) error {
		tx, err := a.newTransaction("export")
		if err != nil {
			return err
		}
		defer tx.Discard()

		obj, def, err := a.lookup(tx, args[0], args[1])
		if err != nil {
			return err
		}
		if def.IsCollection() {
			items, err := tx.Collection(obj, args[1])
			if err != nil {
				return err
			}
			if err := items.EnsureDataComplete(); err != nil {
				return err
			}
		} else if _, err := tx.GetRelated(obj, args[1]); err != nil {
			return err
		}
		return a.writeExport(cmd, tx, out, "export")
	})
}

func runImport(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(a *app) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading export: %w", err)
		}
		opts, err := a.options("import")
		if err != nil {
			return err
		}
		tx, err := unitofwork.Import(data, a.cfg.Seal.Passphrase, a.engine, a.registry, opts...)
		if err != nil {
			a.journal.Log(audit.Event{Type: audit.EventImport, Source: "import", Reason: err.Error()})
			return fmt.Errorf("importing %s: %w", args[0], err)
		}
		defer tx.Discard()

		if err := a.journal.Log(audit.Event{
			Type:        audit.EventImport,
			Source:      "import",
			Transaction: tx.ID(),
			Success:     true,
			Metadata:    map[string]string{"file": args[0]},
		}); err != nil {
			return err
		}
		if err := a.commit(tx, "import"); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✅ Imported and committed transaction %s\n", tx.ID())
		return nil
	})
}

func runHistory(cmd *cobra.Command, args []string) error {
	since, _ := cmd.Flags().GetDuration("since")
	limit, _ := cmd.Flags().GetInt("limit")
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	q := audit.Query{
		Object:     args[0],
		EventTypes: []audit.EventType{audit.EventRelationChanged},
		Limit:      limit,
	}
	if since > 0 {
		q.StartTime = time.Now().Add(-since)
	}
	result, err := audit.NewReader(cfg.Audit.Path).Query(q)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%d changes of %s\n", result.TotalCount, args[0])
	for _, e := range result.Events {
		fmt.Fprintf(out, "  %s %-7s %s old=%s new=%s (%s)\n",
			e.Timestamp.Format(time.RFC3339), e.Kind, e.EndPoint, orNone(e.OldRelated), orNone(e.NewRelated), e.Source)
	}
	if result.HasMore {
		fmt.Fprintln(out, "  ...")
	}
	return nil
}

// writeExport exports tx to path, sealed when a passphrase is configured.
func (a *app) writeExport(cmd *cobra.Command, tx *unitofwork.Transaction, path, source string) error {
	var (
		data []byte
		err  error
	)
	sealed := a.cfg.Seal.Passphrase != ""
	if sealed {
		data, err = tx.ExportSealed(a.cfg.Seal.Passphrase, a.cfg.Seal.Iterations)
	} else {
		data, err = tx.Export()
	}
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing export: %w", err)
	}

	if err := a.journal.Log(audit.Event{
		Type:        audit.EventExport,
		Source:      source,
		Transaction: tx.ID(),
		Success:     true,
		Metadata:    map[string]string{"file": path, "sealed": fmt.Sprint(sealed)},
	}); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✅ Exported transaction %s to %s (%d bytes, sealed: %v)\n", tx.ID(), path, len(data), sealed)
	return nil
}

func (a *app) object(tx *unitofwork.Transaction, s string) (*domain.Object, error) {
	id, err := domain.ParseObjectID(s)
	if err != nil {
		return nil, err
	}
	return tx.GetObject(id)
}

// lookup loads the object s and the definition of its relation property.
func (a *app) lookup(tx *unitofwork.Transaction, s, property string) (*domain.Object, *mapping.EndPointDefinition, error) {
	obj, err := a.object(tx, s)
	if err != nil {
		return nil, nil, err
	}
	def, err := a.registry.EndPoint(obj.ID().ClassID, property)
	if err != nil {
		return nil, nil, err
	}
	return obj, def, nil
}

func (a *app) printMetrics(cmd *cobra.Command) error {
	if a.metrics == nil {
		return nil
	}
	families, err := a.metrics.Gather()
	if err != nil {
		return err
	}
	sort.Slice(families, func(i, j int) bool { return families[i].GetName() < families[j].GetName() })

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "📊 Metrics:")
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			labels := ""
			for _, lp := range m.GetLabel() {
				labels += fmt.Sprintf(" %s=%s", lp.GetName(), lp.GetValue())
			}
			switch {
			case m.GetCounter() != nil:
				fmt.Fprintf(out, "  %s%s %g\n", mf.GetName(), labels, m.GetCounter().GetValue())
			case m.GetHistogram() != nil:
				fmt.Fprintf(out, "  %s%s count=%d sum=%g\n", mf.GetName(), labels,
					m.GetHistogram().GetSampleCount(), m.GetHistogram().GetSampleSum())
			}
		}
	}
	return nil
}

func objectLabel(obj *domain.Object) string {
	if obj == nil {
		return "<null>"
	}
	return obj.ID().String()
}

func orNone(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
