package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/paperseal/internal/export"
	"github.com/pavelanni/paperseal/internal/lifecycle"
	"github.com/pavelanni/paperseal/internal/model"
	"github.com/pavelanni/paperseal/internal/selection"
	"github.com/pavelanni/paperseal/internal/store"
)

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a paper's selection as JSON or a spreadsheet",
		RunE:  runExport,
	}
	addStoreFlags(cmd)
	f := cmd.Flags()
	f.Int64("paper", 0, "Paper ID (required)")
	f.String("format", "json", "Output format (json, xlsx)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	_ = cmd.MarkFlagRequired("paper")
	return cmd
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := openStore(v)
	if err != nil {
		return err
	}
	defer db.Close()

	pe, err := db.ExportPaper(cmd.Context(), v.GetInt64("paper"))
	if err != nil {
		return fmt.Errorf("export paper: %w", err)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = cmd.OutOrStdout()
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	switch strings.ToLower(v.GetString("format")) {
	case "xlsx":
		return export.WriteXLSX(w, pe)
	case "json":
		data, err := json.MarshalIndent(pe, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal JSON: %w", err)
		}
		if _, err := w.Write(data); err != nil {
			return fmt.Errorf("write output: %w", err)
		}
		_, _ = fmt.Fprintln(w)
		return nil
	default:
		return fmt.Errorf("unknown format %q", v.GetString("format"))
	}
}

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import FILE...",
		Short: "Import papers with their question pools from JSON files",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runImport,
	}
	addStoreFlags(cmd)
	cmd.Flags().String("owner", "admin", "Username owning papers that name no owner")
	return cmd
}

func runImport(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := openStore(v)
	if err != nil {
		return err
	}
	defer db.Close()

	sel := selection.NewManager(db, lifecycle.New(db, model.Config{}))
	return importPapers(cmd.Context(), db, sel, args, v.GetString("owner"))
}

var importValidate = validator.New(validator.WithRequiredStructEnabled())

// importPapers loads each file once. A file already imported with the same
// content is skipped; a changed file is skipped with a warning so existing
// selections are never duplicated.
func importPapers(ctx context.Context, db *store.Store, sel *selection.Manager, paths []string, defaultOwner string) error {
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}

		hash := sha256sum(data)
		storedHash, err := db.GetImportedFileHash(ctx, path)
		if err != nil {
			return fmt.Errorf("check import status for %s: %w", path, err)
		}
		if storedHash == hash {
			slog.Info("paper file unchanged, skipping", "path", path)
			continue
		}
		if storedHash != "" {
			slog.Warn("paper file changed since last import, skipping to avoid duplicating papers", "path", path)
			continue
		}

		var papers []model.PaperImport
		if err := json.Unmarshal(data, &papers); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		for i, in := range papers {
			if err := importValidate.Struct(in); err != nil {
				return fmt.Errorf("%s: paper %d: %w", path, i+1, err)
			}
			owner := in.Owner
			if owner == "" {
				owner = defaultOwner
			}
			u, err := db.GetUserByUsername(ctx, owner)
			if err != nil {
				return err
			}
			if u == nil {
				return fmt.Errorf("%s: paper %d: unknown owner %q", path, i+1, owner)
			}
			if _, err := sel.CreatePaper(ctx, u.ID, in); err != nil {
				return fmt.Errorf("%s: paper %d: %w", path, i+1, err)
			}
		}

		if err := db.SetImportedFileHash(ctx, path, hash); err != nil {
			return fmt.Errorf("record import for %s: %w", path, err)
		}
		slog.Info("imported papers", "path", path, "count", len(papers))
	}
	return nil
}

func sha256sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

func userCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage users",
	}
	add := &cobra.Command{
		Use:   "add USERNAME",
		Short: "Create a user",
		Args:  cobra.ExactArgs(1),
		RunE:  runUserAdd,
	}
	addStoreFlags(add)
	f := add.Flags()
	f.String("password", "", "Password (or set PAPERSEAL_PASSWORD)")
	f.String("display-name", "", "Display name")
	f.String("role", string(model.UserRoleTeacher), "Role (teacher, admin)")
	cmd.AddCommand(add)
	return cmd
}

func runUserAdd(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	role := model.UserRole(v.GetString("role"))
	if role != model.UserRoleTeacher && role != model.UserRoleAdmin {
		return fmt.Errorf("invalid role %q", role)
	}
	password := v.GetString("password")
	if password == "" {
		return fmt.Errorf("password is required: set --password flag or PAPERSEAL_PASSWORD env var")
	}

	db, err := openStore(v)
	if err != nil {
		return err
	}
	defer db.Close()

	return createUser(cmd.Context(), db, args[0], v.GetString("display-name"), password, role)
}

func createUser(ctx context.Context, db *store.Store, username, displayName, password string, role model.UserRole) error {
	existing, err := db.GetUserByUsername(ctx, username)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("user %q already exists", username)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if displayName == "" {
		displayName = username
	}
	_, err = db.CreateUser(ctx, model.User{
		Username:     username,
		DisplayName:  displayName,
		PasswordHash: string(hash),
		Role:         role,
		Active:       true,
		CreatedAt:    db.Now(),
	})
	return err
}

func seedAdmin(ctx context.Context, db *store.Store, password string) error {
	count, err := db.UserCount(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	if password == "" {
		return fmt.Errorf("admin password is required: set --admin-password flag or PAPERSEAL_ADMIN_PASSWORD env var")
	}
	if err := createUser(ctx, db, "admin", "Administrator", password, model.UserRoleAdmin); err != nil {
		return fmt.Errorf("create admin user: %w", err)
	}
	slog.Info("seeded default admin user", "username", "admin")
	return nil
}
