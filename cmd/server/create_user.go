package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tyemirov/shopauth/internal/authkit"
	"go.uber.org/zap"
)

func newCreateUserCommand() *cobra.Command {
	command := &cobra.Command{
		Use:     "create-user",
		Short:   "Register an account directly in the configured user store",
		Args:    cobra.NoArgs,
		PreRunE: prepareServerConfig,
		RunE:    runCreateUser,
	}
	command.Flags().String("email", "", "Account email")
	command.Flags().String("password", "", "Account password")
	command.Flags().String("full_name", "", "Display name")
	command.Flags().String("role", authkit.RoleAdmin, "Account role: customer or admin")
	_ = command.MarkFlagRequired("email")
	_ = command.MarkFlagRequired("password")
	return command
}

func runCreateUser(command *cobra.Command, arguments []string) error {
	logger, loggerErr := zap.NewProduction()
	if loggerErr != nil {
		return loggerErr
	}
	defer func() { _ = logger.Sync() }()

	serverConfig, configErr := serverConfigFromCommand(command)
	if configErr != nil {
		return configErr
	}
	email, _ := command.Flags().GetString("email")
	password, _ := command.Flags().GetString("password")
	fullName, _ := command.Flags().GetString("full_name")
	role, _ := command.Flags().GetString("role")

	settings := loadStoreSettings()
	if settings.databaseURL == "" {
		return configError(configCodeMissingDatabaseURL, "database_url must be provided for create-user; in-memory accounts do not outlive the command")
	}
	stores, storesErr := openStores(command.Context(), logger, settings)
	if storesErr != nil {
		return storesErr
	}
	defer stores.Close(logger)

	service, serviceErr := authkit.NewAuthService(serverConfig, authkit.Dependencies{
		Users:         stores.users,
		RefreshTokens: stores.refreshTokens,
		Logger:        logger,
	})
	if serviceErr != nil {
		return serviceErr
	}
	result, registerErr := service.Register(command.Context(), authkit.RegisterInput{
		Email:       email,
		Password:    password,
		DisplayName: fullName,
		Role:        role,
	})
	if registerErr != nil {
		return fmt.Errorf("create-user: %w", registerErr)
	}
	// The issued pair is not needed; the account signs in through /auth/login.
	if revokeErr := service.RevokeAll(command.Context(), result.User.ID); revokeErr != nil {
		return fmt.Errorf("create-user: %w", revokeErr)
	}
	logger.Info("user created", zap.String("user_id", result.User.ID), zap.String("role", result.User.Role))
	_, _ = fmt.Fprintln(command.OutOrStdout(), result.User.ID)
	return nil
}
