package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"curator/internal/archive"
	"curator/internal/registry"
	"curator/internal/services"
)

func newRegistryCommand(ctx *commandContext) *cobra.Command {
	registryCmd := &cobra.Command{
		Use:   "registry",
		Short: "Inspect and administer the shared registry document",
	}

	registryCmd.AddCommand(newRegistryInitCommand(ctx))
	registryCmd.AddCommand(newRegistryShowCommand(ctx))
	registryCmd.AddCommand(newRegistryAddCommand(ctx, "add-user", "Register an operator", registry.TableUsers))
	registryCmd.AddCommand(newRegistryAddCommand(ctx, "add-site", "Register an acquisition site", registry.TableSites))
	registryCmd.AddCommand(newRegistryAddCommand(ctx, "add-group", "Register a procedure group", registry.TableGroups))
	registryCmd.AddCommand(newRegistrySyncCommand(ctx))

	return registryCmd
}

func newRegistryInitCommand(ctx *commandContext) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the registry document on the archive",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return ctx.withArchive(cmd.Context(), func(client archive.Client) error {
				key := cfg.Registry.DocumentKey
				if _, err := client.Stat(cmd.Context(), key); err == nil {
					if !force {
						return fmt.Errorf("registry document already exists at %s (use --force to replace it)", key)
					}
				} else if !errors.Is(err, services.ErrNotFound) {
					return err
				}

				doc := registry.Bootstrap(cfg.Archive.Operator, time.Now())
				data, err := doc.MarshalBytes()
				if err != nil {
					return err
				}
				if _, err := client.Put(cmd.Context(), key, data); err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Wrote registry document to %s\n", key)
				fmt.Fprintf(out, "Operator %q registered; %d site(s) and %d group(s) seeded\n",
					cfg.Archive.Operator,
					len(doc.Tables[registry.TableSites]),
					len(doc.Tables[registry.TableGroups]))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Replace an existing registry document")
	return cmd
}

func newRegistryShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show [table]",
		Short: "Display registry tables",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return ctx.withArchive(cmd.Context(), func(client archive.Client) error {
				data, _, err := client.Fetch(cmd.Context(), cfg.Registry.DocumentKey)
				if err != nil {
					return err
				}
				doc, err := registry.ParseDocument(data)
				if err != nil {
					return err
				}

				if len(args) == 0 {
					return renderRegistrySummary(cmd, doc, asJSON)
				}
				table, err := resolveTableName(args[0])
				if err != nil {
					return err
				}
				return renderRegistryTable(cmd, doc, table, asJSON)
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON instead of a table")
	return cmd
}

func newRegistryAddCommand(ctx *commandContext, use, short, table string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <name>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRegistrySession(cmd, func(opCtx context.Context, reg *registry.Registry, client archive.Client) error {
				uid, err := reg.Insert(table, registry.Row{Name: args[0]})
				if err != nil {
					return err
				}
				if err := reg.Sync(opCtx, client); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Added %s to %s with UID %s\n",
					registry.NormalizeName(args[0]), table, uid)
				return nil
			})
		},
	}
}

func newRegistrySyncCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Verify registry access and refresh the local working copy",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRegistrySession(cmd, func(opCtx context.Context, reg *registry.Registry, client archive.Client) error {
				if err := reg.Sync(opCtx, client); err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Registry document is current (marker %s)\n", reg.Marker())
				for _, table := range reg.Tables() {
					rows, err := reg.Table(table)
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "  %-18s %d row(s)\n", table, len(rows))
				}
				return nil
			})
		},
	}
}

func renderRegistrySummary(cmd *cobra.Command, doc *registry.Document, asJSON bool) error {
	names := make([]string, 0, len(doc.Tables))
	for name := range doc.Tables {
		names = append(names, name)
	}
	sort.Strings(names)

	if asJSON {
		summary := make(map[string]int, len(names))
		for _, name := range names {
			summary[name] = len(doc.Tables[name])
		}
		return writeJSON(cmd, summary)
	}

	rows := make([][]string, 0, len(names))
	for _, name := range names {
		rows = append(rows, []string{name, fmt.Sprintf("%d", len(doc.Tables[name]))})
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderTable(
		[]string{"Table", "Rows"}, rows,
		[]columnAlignment{alignLeft, alignRight},
	))
	return nil
}

func renderRegistryTable(cmd *cobra.Command, doc *registry.Document, table string, asJSON bool) error {
	tableRows, ok := doc.Tables[table]
	if !ok {
		return fmt.Errorf("registry document has no table %q", table)
	}

	extras := doc.Metadata.TableExtraColumns[table]
	if asJSON {
		out := make([]map[string]string, 0, len(tableRows))
		for _, row := range tableRows {
			entry := map[string]string{
				"NAME":              row.Name,
				"UID":               row.UID,
				"CREATED_DATE_TIME": row.CreatedAt,
				"CREATED_BY":        row.CreatedBy,
			}
			for _, col := range extras {
				entry[col] = row.Extra[col]
			}
			out = append(out, entry)
		}
		return writeJSON(cmd, out)
	}

	headers := append([]string{"Name", "UID", "Created", "Created By"}, extras...)
	rows := make([][]string, 0, len(tableRows))
	for _, row := range tableRows {
		r := []string{row.Name, row.UID, row.CreatedAt, row.CreatedBy}
		for _, col := range extras {
			r = append(r, row.Extra[col])
		}
		rows = append(rows, r)
	}
	if len(rows) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "%s is empty\n", table)
		return nil
	}
	aligns := make([]columnAlignment, len(headers))
	fmt.Fprintln(cmd.OutOrStdout(), renderTable(headers, rows, aligns))
	return nil
}

// resolveTableName maps a user-supplied table name onto the document's
// canonical uppercase names.
func resolveTableName(arg string) (string, error) {
	normalized := strings.ToUpper(strings.TrimSpace(arg))
	known := []string{
		registry.TableUsers,
		registry.TableSites,
		registry.TableGroups,
		registry.TableSubjects,
		registry.TableHashes,
	}
	aliases := map[string]string{
		"USERS":    registry.TableUsers,
		"SITES":    registry.TableSites,
		"SUBJECTS": registry.TableSubjects,
		"HASHES":   registry.TableHashes,
		"IMAGES":   registry.TableHashes,
	}
	for _, name := range known {
		if normalized == name {
			return name, nil
		}
	}
	if name, ok := aliases[normalized]; ok {
		return name, nil
	}
	return "", fmt.Errorf("unknown table %q (expected one of %s)", arg, strings.Join(known, ", "))
}
