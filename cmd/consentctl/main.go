package main

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"clinical-consent/internal/adapters/auth/jwtverify"
	pg "clinical-consent/internal/adapters/storage/postgres"
	"clinical-consent/internal/app"
	"clinical-consent/internal/domain/consent"
	"clinical-consent/internal/platform/config"
	"clinical-consent/internal/platform/logger"
	"clinical-consent/internal/router"
)

type env struct {
	configPath string
	out        string // "json" | "text"

	cfg *config.Config
	log logger.Logger
}

func (e *env) openDB() (*sql.DB, error) {
	if e.cfg.Storage.DSN == "" {
		return nil, errors.New("falta DB_DSN (env o storage.dsn en el YAML)")
	}
	return pg.Open(e.cfg.Storage.DSN)
}

func (e *env) print(v any) {
	if e.out == "json" {
		b, _ := json.MarshalIndent(v, "", "  ")
		fmt.Println(string(b))
		return
	}
	fmt.Printf("%+v\n", v)
}

func main() {
	_ = godotenv.Load(".env")     // base
	_ = godotenv.Load(".env.dev") // dev overrides

	e := &env{configPath: os.Getenv("CONSENT_CONFIG"), out: envOr("CONSENTCTL_OUT", "text")}

	root := &cobra.Command{
		Use:          "consentctl",
		Short:        "Operaciones de mantenimiento del servicio de consentimientos",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(e.configPath)
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			e.cfg = cfg
			e.log = app.Logger(cfg)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&e.configPath, "config", e.configPath, "YAML de config (env CONSENT_CONFIG)")
	root.PersistentFlags().StringVar(&e.out, "out", e.out, "Formato de salida: json|text")

	root.AddCommand(migrateCmd(e), sweepCmd(e), checkCmd(e), tokenCmd(e))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func migrateCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Aplicar migraciones SQL pendientes",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := e.openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			res, err := pg.Migrate(cmd.Context(), db)
			if err != nil {
				return err
			}
			e.print(map[string]any{
				"applied":     res.Applied,
				"skipped":     res.Skipped,
				"duration_ms": res.Duration.Milliseconds(),
			})
			return nil
		},
	}
}

func sweepCmd(e *env) *cobra.Command {
	var batch int
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Una pasada del barrido de expiración (para cron)",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := e.openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			svc := router.BuildService(router.Options{DB: db, Logger: e.log})
			if batch <= 0 {
				batch = e.cfg.Sweeper.Batch
			}
			n, err := consent.NewSweeper(svc, e.cfg.Sweeper.Interval, batch).RunOnce(cmd.Context())
			svc.Wait()
			if err != nil {
				return err
			}
			e.print(map[string]any{"expired": n})
			return nil
		},
	}
	cmd.Flags().IntVar(&batch, "batch", 0, "Tamaño de página (default: sweeper.batch)")
	return cmd
}

func checkCmd(e *env) *cobra.Command {
	var clinicianID, patientID, permission string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Evaluar acceso de un profesional a un paciente",
		RunE: func(cmd *cobra.Command, args []string) error {
			if clinicianID == "" || patientID == "" || permission == "" {
				return errors.New("--clinician, --patient y --permission son requeridos")
			}
			db, err := e.openDB()
			if err != nil {
				return err
			}
			defer db.Close()

			svc := router.BuildService(router.Options{DB: db, Logger: e.log})
			d, err := svc.CheckAccess(cmd.Context(), clinicianID, patientID, consent.Permission(permission))
			if err != nil {
				return err
			}
			e.print(map[string]any{"allowed": d.Allowed, "reason": d.Reason, "grant_id": d.GrantID})
			return nil
		},
	}
	cmd.Flags().StringVar(&clinicianID, "clinician", "", "ID del profesional")
	cmd.Flags().StringVar(&patientID, "patient", "", "ID del paciente")
	cmd.Flags().StringVar(&permission, "permission", "", "view|edit|assessments|reports|iep|edit_any")
	return cmd
}

func tokenCmd(e *env) *cobra.Command {
	var subject, email string
	var service bool
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Emitir un bearer HS256 de prueba (auth.mode=jwt)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(subject) == "" {
				return errors.New("--sub es requerido")
			}
			if e.cfg.Auth.JWT.Secret == "" {
				return errors.New("falta JWT_SECRET")
			}
			now := time.Now()
			c := jwtverify.Claims{
				Email:   email,
				Service: service,
				RegisteredClaims: jwt.RegisteredClaims{
					Subject:   subject,
					Issuer:    e.cfg.Auth.JWT.Issuer,
					IssuedAt:  jwt.NewNumericDate(now),
					ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
				},
			}
			if aud := e.cfg.Auth.JWT.Audience; aud != "" {
				c.Audience = jwt.ClaimStrings{aud}
			}
			tok, err := jwtverify.Sign(e.cfg.Auth.JWT.Secret, c)
			if err != nil {
				return err
			}
			fmt.Println(tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "sub", "", "User ID (claim sub)")
	cmd.Flags().StringVar(&email, "email", "", "Email (opcional)")
	cmd.Flags().BoolVar(&service, "service", false, "Token de cuenta de servicio (claim svc)")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "Vigencia del token")
	return cmd
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
