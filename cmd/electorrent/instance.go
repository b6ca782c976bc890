// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/electorrent/electorrent/internal/backend"
	"github.com/electorrent/electorrent/internal/buildinfo"
	"github.com/electorrent/electorrent/internal/config"
	"github.com/electorrent/electorrent/internal/database"
	"github.com/electorrent/electorrent/internal/models"
)

// stores is the persistence the offline commands work on.
type stores struct {
	cfg       *config.AppConfig
	db        *database.DB
	instances *models.InstanceStore
	errors    *models.InstanceErrorStore
}

func (s *stores) Close() error {
	return s.db.Close()
}

func openStores(configDir, dataDir string) (*stores, error) {
	cfg, err := config.New(configDir, buildinfo.Version)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize configuration: %w", err)
	}
	if dataDir != "" {
		cfg.SetDataDir(dataDir)
	}

	db, err := database.New(cfg.GetDatabasePath())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	instanceStore, err := models.NewInstanceStore(db.Conn(), cfg.GetEncryptionKey())
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize instance store: %w", err)
	}

	return &stores{
		cfg:       cfg,
		db:        db,
		instances: instanceStore,
		errors:    models.NewInstanceErrorStore(db.Conn()),
	}, nil
}

// findInstance accepts an instance id or a case-insensitive name.
func (s *stores) findInstance(ctx context.Context, ref string) (*models.Instance, error) {
	if id, err := strconv.Atoi(ref); err == nil {
		instance, err := s.instances.Get(ctx, id)
		if err == nil || !errors.Is(err, models.ErrInstanceNotFound) {
			return instance, err
		}
	}

	instance, err := s.instances.GetByName(ctx, ref)
	if errors.Is(err, models.ErrInstanceNotFound) {
		return nil, fmt.Errorf("instance '%s' not found", ref)
	}
	return instance, err
}

func addStoreFlags(command *cobra.Command, configDir, dataDir *string) {
	command.PersistentFlags().StringVar(configDir, "config-dir", "",
		"config directory or file path (defaults to OS-specific location)")
	command.PersistentFlags().StringVar(dataDir, "data-dir", "",
		"data directory path (defaults to next to config file)")
}

func readPassword(prompt string) (string, error) {
	if term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Print(prompt)
		password, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return string(password), nil
	}

	fmt.Fprint(os.Stderr, prompt)
	var password string
	if _, err := fmt.Scanln(&password); err != nil {
		return "", fmt.Errorf("failed to read password from stdin: %w", err)
	}
	return password, nil
}

func RunInstanceCommand() *cobra.Command {
	var configDir, dataDir string

	command := &cobra.Command{
		Use:   "instance",
		Short: "Manage backend instances",
		Long: `Add, list and remove qBittorrent and Transmission instances without
starting the server. Passwords are encrypted with the session secret from the
config file.`,
	}
	addStoreFlags(command, &configDir, &dataDir)

	command.AddCommand(runInstanceAddCommand(&configDir, &dataDir))
	command.AddCommand(runInstanceListCommand(&configDir, &dataDir))
	command.AddCommand(runInstanceRemoveCommand(&configDir, &dataDir))

	return command
}

func runInstanceAddCommand(configDir, dataDir *string) *cobra.Command {
	var (
		name          string
		kind          string
		host          string
		username      string
		password      string
		basicUsername string
		basicPassword string
		tlsSkipVerify bool
	)

	command := &cobra.Command{
		Use:   "add",
		Short: "Add an instance",
		RunE: func(cmd *cobra.Command, args []string) error {
			name = strings.TrimSpace(name)
			if name == "" {
				return errors.New("name cannot be empty")
			}
			if strings.TrimSpace(host) == "" {
				return errors.New("host cannot be empty")
			}

			if username != "" && password == "" {
				var err error
				password, err = readPassword("Enter password: ")
				if err != nil {
					return err
				}
			}

			s, err := openStores(*configDir, *dataDir)
			if err != nil {
				return err
			}
			defer s.Close()

			params := models.InstanceParams{
				Name:          name,
				Kind:          backend.Kind(strings.ToLower(kind)),
				Host:          host,
				Username:      username,
				Password:      password,
				TLSSkipVerify: &tlsSkipVerify,
			}
			if basicUsername != "" {
				params.BasicUsername = &basicUsername
				params.BasicPassword = &basicPassword
			}

			instance, err := s.instances.Create(cmd.Context(), params)
			if err != nil {
				return fmt.Errorf("failed to add instance: %w", err)
			}

			cmd.Printf("Instance '%s' added with ID: %d (%s, %s)\n", instance.Name, instance.ID, instance.Kind, instance.Host)
			return nil
		},
	}

	command.Flags().StringVar(&name, "name", "", "display name of the instance")
	command.Flags().StringVar(&kind, "kind", string(backend.KindQBittorrent), "backend kind: qbittorrent or transmission")
	command.Flags().StringVar(&host, "host", "", "backend URL, e.g. http://localhost:8080")
	command.Flags().StringVar(&username, "username", "", "backend username")
	command.Flags().StringVar(&password, "password", "", "backend password (will prompt if a username is given without one)")
	command.Flags().StringVar(&basicUsername, "basic-username", "", "HTTP basic auth username of a reverse proxy")
	command.Flags().StringVar(&basicPassword, "basic-password", "", "HTTP basic auth password of a reverse proxy")
	command.Flags().BoolVar(&tlsSkipVerify, "tls-skip-verify", false, "accept self-signed certificates")

	return command
}

func runInstanceListCommand(configDir, dataDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List instances",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStores(*configDir, *dataDir)
			if err != nil {
				return err
			}
			defer s.Close()

			instances, err := s.instances.List(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list instances: %w", err)
			}
			if len(instances) == 0 {
				cmd.Println("No instances configured.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tKIND\tHOST\tACTIVE")
			for _, i := range instances {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%t\n", i.ID, i.Name, i.Kind, i.Host, i.IsActive)
			}
			return w.Flush()
		},
	}
}

func runInstanceRemoveCommand(configDir, dataDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id|name>",
		Short: "Remove an instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStores(*configDir, *dataDir)
			if err != nil {
				return err
			}
			defer s.Close()

			instance, err := s.findInstance(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := s.instances.Delete(cmd.Context(), instance.ID); err != nil {
				return fmt.Errorf("failed to remove instance: %w", err)
			}

			cmd.Printf("Instance '%s' removed\n", instance.Name)
			return nil
		},
	}
}
