package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"metarecon/internal/app"
	"metarecon/internal/ledger"
	"metarecon/internal/reconcile"
)

func parseRefs(args []string) ([]app.Ref, error) {
	refs := make([]app.Ref, 0, len(args))
	for _, a := range args {
		ref, err := app.ParseRef(a)
		if err != nil {
			return nil, withCode(exitUsage, err)
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

func parseRef(arg string) (app.Ref, error) {
	ref, err := app.ParseRef(arg)
	if err != nil {
		return app.Ref{}, withCode(exitUsage, err)
	}
	return ref, nil
}

func newAuditCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "audit [key...]",
		Short: "Report identifier, reference and association problems",
		Long:  "Audit indexes every collection of the given documents (all stored documents when none are given) and reports invalid or duplicate ids, dangling references and association mismatches. Nothing is written.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(rt *runtime) error {
				res, err := rt.svc.Audit(cmd.Context(), args)
				return render(cmd, res, res.Result, err, func(w io.Writer) {
					fmt.Fprintf(w, "collections: %s\n", strings.Join(res.Collections, ", "))
				})
			})
		},
	}
}

func newClassifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "classify <key[#collection]>",
		Short: "Bucket records by cancer site category",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := parseRef(args[0])
			if err != nil {
				return err
			}
			return withRuntime(cmd, func(rt *runtime) error {
				res, err := rt.svc.Classify(cmd.Context(), ref)
				return render(cmd, res, res.Result, err, func(w io.Writer) {
					for _, c := range res.Categories {
						fmt.Fprintf(w, "%s (%d): %s\n", c.Name, len(c.IDs), strings.Join(c.IDs, ", "))
					}
				})
			})
		},
	}
}

func newOrphansCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orphans <key[#collection]>",
		Short: "Detect and optionally prune records with dangling references",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := parseRef(args[0])
			if err != nil {
				return err
			}
			refs, _ := cmd.Flags().GetStringSlice("refs")
			entries, _ := cmd.Flags().GetBool("prune-entries")
			records, _ := cmd.Flags().GetBool("prune-records")
			req := app.OrphansRequest{
				Target:     ref,
				References: refs,
				Prune:      reconcile.PruneOptions{Entries: entries, Records: records},
			}
			return withRuntime(cmd, func(rt *runtime) error {
				res, err := rt.svc.Orphans(cmd.Context(), req)
				return render(cmd, res, res.Result, err, func(w io.Writer) {
					fmt.Fprintf(w, "valid=%d orphaned=%d entries_removed=%d records_removed=%d\n",
						res.Valid, len(res.Orphaned), res.EntriesRemoved, len(res.RecordsRemoved))
					for _, id := range res.Orphaned {
						fmt.Fprintf(w, "  orphan %s\n", id)
					}
				})
			})
		},
	}
	cmd.Flags().StringSlice("refs", nil, "Documents holding the referenced collections")
	cmd.Flags().Bool("prune-entries", false, "Drop dangling association list entries")
	cmd.Flags().Bool("prune-records", false, "Drop records still holding a dangling reference")
	return cmd
}

func newAssignCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "assign <parents key[#collection]> <children key[#collection]>",
		Short: "Attach children to every parent of the same category",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			refs, err := parseRefs(args)
			if err != nil {
				return err
			}
			return withRuntime(cmd, func(rt *runtime) error {
				res, err := rt.svc.Assign(cmd.Context(), app.AssignRequest{Parents: refs[0], Children: refs[1]})
				return render(cmd, res, res.Result, err, func(w io.Writer) {
					fmt.Fprintf(w, "parents_changed=%d entries_added=%d\n", res.ParentsChanged, res.EntriesAdded)
				})
			})
		},
	}
}

func newDedupeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dedupe <key[#collection]...>",
		Short: "Regenerate invalid ids, resolve duplicates and propagate the changes",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			targets, err := parseRefs(args)
			if err != nil {
				return err
			}
			raw, _ := cmd.Flags().GetStringSlice("others")
			others, err := parseRefs(raw)
			if err != nil {
				return err
			}
			return withRuntime(cmd, func(rt *runtime) error {
				res, err := rt.svc.Dedupe(cmd.Context(), app.DedupeRequest{Targets: targets, Others: others})
				return render(cmd, res, res.Result, err, func(w io.Writer) {
					for _, c := range res.Changes {
						fmt.Fprintf(w, "%s %s[%d] %s -> %s (%s)\n", c.Document, c.Collection, c.Position, c.OldID, c.NewID, c.Reason)
					}
					fmt.Fprintf(w, "references_updated=%d\n", res.ReferencesUpdated)
				})
			})
		},
	}
	cmd.Flags().StringSlice("others", nil, "Collections whose references follow the id changes")
	return cmd
}

func newRemapCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remap <key...>",
		Short: "Replay recorded id changes on other documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, _ := cmd.Flags().GetStringSlice("run")
			ids := make([]uuid.UUID, 0, len(raw))
			for _, r := range raw {
				id, err := uuid.Parse(r)
				if err != nil {
					return withCode(exitUsage, fmt.Errorf("--run %q: %w", r, err))
				}
				ids = append(ids, id)
			}
			return withRuntime(cmd, func(rt *runtime) error {
				res, err := rt.svc.Remap(cmd.Context(), app.RemapRequest{Keys: args, RunIDs: ids})
				return render(cmd, res, res, err, nil)
			})
		},
	}
	cmd.Flags().StringSlice("run", nil, "Dedupe run ids to replay (default: every recorded dedupe run)")
	return cmd
}

func newMergeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "merge <key[#collection]...>",
		Short: "Concatenate collections into one document",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			inputs, err := parseRefs(args)
			if err != nil {
				return err
			}
			output, _ := cmd.Flags().GetString("output")
			auth, _ := cmd.Flags().GetInt("authoritative")
			if auth < 0 || auth >= len(inputs) {
				return withCode(exitUsage, fmt.Errorf("--authoritative %d out of range for %d inputs", auth, len(inputs)))
			}
			return withRuntime(cmd, func(rt *runtime) error {
				res, err := rt.svc.Merge(cmd.Context(), app.MergeRequest{Inputs: inputs, Authoritative: auth, Output: output})
				return render(cmd, res, res.Result, err, func(w io.Writer) {
					fmt.Fprintf(w, "records=%d\n", res.Records)
				})
			})
		},
	}
	cmd.Flags().String("output", "", "Key of the merged document")
	cmd.Flags().Int("authoritative", 0, "Index of the input whose envelope is kept")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

func newSplitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "split <key[#collection]>",
		Short: "Write one document per category",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := parseRef(args[0])
			if err != nil {
				return err
			}
			dir, _ := cmd.Flags().GetString("output-dir")
			return withRuntime(cmd, func(rt *runtime) error {
				res, err := rt.svc.Split(cmd.Context(), app.SplitRequest{Source: ref, OutputDir: dir})
				return render(cmd, res, res.Result, err, func(w io.Writer) {
					for _, p := range res.Parts {
						fmt.Fprintf(w, "%s: %d records -> %s\n", p.Category, p.Records, p.Key)
					}
				})
			})
		},
	}
	cmd.Flags().String("output-dir", "", "Key prefix of the written documents")
	_ = cmd.MarkFlagRequired("output-dir")
	return cmd
}

func newCloneCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clone <key[#collection]>",
		Short: "Copy a template record once per cancer site",
		Long:  "Clone appends a copy of the --template record for every category (default: every vocabulary site except the template's own), named \"<Category> - <name>\" with a fresh id. Existing names are skipped.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := parseRef(args[0])
			if err != nil {
				return err
			}
			template, _ := cmd.Flags().GetString("template")
			categories, _ := cmd.Flags().GetStringSlice("categories")
			req := app.CloneRequest{Source: ref, Template: template, Categories: categories}
			return withRuntime(cmd, func(rt *runtime) error {
				res, err := rt.svc.Clone(cmd.Context(), req)
				return render(cmd, res, res.Result, err, func(w io.Writer) {
					for _, c := range res.Created {
						fmt.Fprintf(w, "%s: %s %q\n", c.Category, c.ID, c.Name)
					}
				})
			})
		},
	}
	cmd.Flags().String("template", "", "Id of the record to copy")
	cmd.Flags().StringSlice("categories", nil, "Categories to create (default: vocabulary sites)")
	_ = cmd.MarkFlagRequired("template")
	return cmd
}

func newShortNamesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shortnames <key[#collection]>",
		Short: "Truncate and de-duplicate short names",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := parseRef(args[0])
			if err != nil {
				return err
			}
			return withRuntime(cmd, func(rt *runtime) error {
				res, err := rt.svc.ShortNames(cmd.Context(), ref)
				return render(cmd, res, res, err, nil)
			})
		},
	}
}

func newFilterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "filter <key[#collection]>",
		Short: "Keep only the records matching a predicate",
		Long:  "Filter keeps the records accepted by --keep, either the name of a profile filter or a CEL expression over id, name, shortName and record.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := parseRef(args[0])
			if err != nil {
				return err
			}
			keep, _ := cmd.Flags().GetString("keep")
			cascade, _ := cmd.Flags().GetBool("cascade")
			removedTo, _ := cmd.Flags().GetString("removed-to")
			req := app.FilterRequest{Source: ref, Predicate: keep, Cascade: cascade, RemovedTo: removedTo}
			return withRuntime(cmd, func(rt *runtime) error {
				res, err := rt.svc.Filter(cmd.Context(), req)
				return render(cmd, res, res.Result, err, func(w io.Writer) {
					fmt.Fprintf(w, "kept=%d removed=%d\n", res.Kept, len(res.Removed))
					for _, id := range res.Removed {
						fmt.Fprintf(w, "  removed %s\n", id)
					}
				})
			})
		},
	}
	cmd.Flags().String("keep", "", "Profile filter name or CEL expression")
	cmd.Flags().Bool("cascade", false, "Prune list entries that pointed at removed records")
	cmd.Flags().String("removed-to", "", "Key receiving the removed records")
	_ = cmd.MarkFlagRequired("keep")
	return cmd
}

func newPushCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "push <key...>",
		Short: "Import documents into the metadata API",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rebuild, _ := cmd.Flags().GetBool("rebuild")
			return withRuntime(cmd, func(rt *runtime) error {
				res, err := rt.svc.Push(cmd.Context(), app.PushRequest{Keys: args, Rebuild: rebuild})
				return render(cmd, res, res.Result, err, func(w io.Writer) {
					for _, d := range res.Documents {
						fmt.Fprintf(w, "%s: %s created=%d updated=%d ignored=%d attempts=%d\n",
							d.Key, d.Status, d.Stats.Created, d.Stats.Updated, d.Stats.Ignored, d.Attempts)
					}
					if res.Rebuild != "" {
						fmt.Fprintf(w, "rebuild: %s\n", res.Rebuild)
					}
				})
			})
		},
	}
	cmd.Flags().Bool("rebuild", false, "Trigger the analytics resource table rebuild after importing")
	return cmd
}

func newPullCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pull <collection...>",
		Short: "Export collections from the metadata API into one document",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output, _ := cmd.Flags().GetString("output")
			return withRuntime(cmd, func(rt *runtime) error {
				res, err := rt.svc.Pull(cmd.Context(), app.PullRequest{Collections: args, Output: output})
				return render(cmd, res, res.Result, err, func(w io.Writer) {
					for _, name := range args {
						fmt.Fprintf(w, "%s: %d records\n", name, res.Records[name])
					}
				})
			})
		},
	}
	cmd.Flags().String("output", "", "Key of the written document")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs [run-id]",
		Short: "List recorded runs or show one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, _ := cmd.Flags().GetString("format")
			w := cmd.OutOrStdout()
			if len(args) == 1 {
				id, err := uuid.Parse(args[0])
				if err != nil {
					return withCode(exitUsage, fmt.Errorf("run id %q: %w", args[0], err))
				}
				return withRuntime(cmd, func(rt *runtime) error {
					run, err := rt.svc.Run(cmd.Context(), id)
					if err != nil {
						return err
					}
					if format == formatJSON {
						return writeJSON(w, run)
					}
					writeRun(w, run)
					return nil
				})
			}
			op, _ := cmd.Flags().GetString("operation")
			limit, _ := cmd.Flags().GetInt("limit")
			return withRuntime(cmd, func(rt *runtime) error {
				runs, err := rt.svc.Runs(cmd.Context(), ledger.ListOptions{Operation: op, Limit: limit})
				if err != nil {
					return err
				}
				if format == formatJSON {
					return writeJSON(w, runs)
				}
				return writeRuns(w, runs)
			})
		},
	}
	cmd.Flags().String("operation", "", "Only list runs of this operation")
	cmd.Flags().Int("limit", 20, "Maximum number of runs (0 for all)")
	return cmd
}
