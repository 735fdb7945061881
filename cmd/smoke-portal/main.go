package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"janseva.org/internal/client"
	"janseva.org/internal/obs"
)

func main() {
	addr := pflag.String("addr", envOr("PORTAL_SMOKE_ADDR", "http://localhost:8080"), "portal base URL")
	timeout := pflag.Duration("timeout", 10*time.Second, "overall deadline")
	pflag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := smoke(ctx, *addr); err != nil {
		obs.Logger().Error("smoke_failed", "addr", *addr, "error", err)
		os.Exit(1)
	}
	fmt.Println("✅ portal smoke test passed")
}

func smoke(ctx context.Context, addr string) error {
	base := client.New(client.Config{BaseURL: addr})
	suffix := uuid.NewString()[:8]

	admin := base.WithToken("")
	if _, err := admin.AdminLogin(ctx, "smoke-admin", "smoke"); err != nil {
		return fmt.Errorf("admin login: %w", err)
	}
	schemeName := "Smoke Scheme " + suffix
	scheme, err := admin.AddScheme(ctx, schemeName, "Created by the smoke test", "Anyone")
	if err != nil {
		return fmt.Errorf("add scheme: %w", err)
	}

	citizen := base.WithToken("")
	if _, err := citizen.Login(ctx, "smoke-citizen-"+suffix, "smoke", "citizen"); err != nil {
		return fmt.Errorf("citizen login: %w", err)
	}
	form := client.ApplicationForm{
		SchemeName: scheme.Name,
		Name:       "Smoke Applicant",
		Age:        30,
		NationalID: "SMOKE-" + suffix,
		Address:    "Nowhere",
	}
	app, err := citizen.Submit(ctx, form, "smoke-"+suffix)
	if err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	if app.Status != "Pending" {
		return fmt.Errorf("new application has status %q", app.Status)
	}
	replay, err := citizen.Submit(ctx, form, "smoke-"+suffix)
	if err != nil {
		return fmt.Errorf("replay submit: %w", err)
	}
	if replay.ID != app.ID {
		return fmt.Errorf("idempotent replay created application %d (want %d)", replay.ID, app.ID)
	}

	officer := base.WithToken("")
	if _, err := officer.Login(ctx, "smoke-officer", "smoke", "officer"); err != nil {
		return fmt.Errorf("officer login: %w", err)
	}
	if _, err := officer.Decide(ctx, app.ID, "Approved"); err != nil {
		return fmt.Errorf("decide: %w", err)
	}
	_, err = officer.Decide(ctx, app.ID, "Rejected")
	if client.StatusOf(err) != http.StatusConflict {
		return fmt.Errorf("second decision: want 409, got %v", err)
	}

	got, err := citizen.GetApplication(ctx, app.ID)
	if err != nil {
		return fmt.Errorf("get application: %w", err)
	}
	if got.Status != "Approved" {
		return fmt.Errorf("status after decisions is %q", got.Status)
	}

	schemes, err := admin.ListSchemes(ctx)
	if err != nil {
		return fmt.Errorf("list schemes: %w", err)
	}
	for _, s := range schemes {
		if s.Name == schemeName && s.ApplicationCount != 1 {
			return fmt.Errorf("scheme %q counts %d applications (want 1)", s.Name, s.ApplicationCount)
		}
	}

	for _, c := range []*client.Client{admin, citizen, officer} {
		if err := c.Logout(ctx); err != nil {
			return fmt.Errorf("logout: %w", err)
		}
	}
	if _, err := citizen.WithToken("bogus").Me(ctx); client.StatusOf(err) != http.StatusUnauthorized {
		return errors.New("bogus token was accepted")
	}
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
