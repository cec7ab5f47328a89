package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/joss/kotoshop/internal/auth"
	"github.com/joss/kotoshop/internal/render"
)

func credentialsCmd(use, short string, run func(s *auth.Slice, ctx context.Context, email, password string) error) *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   use + " <email>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			ctx := cmd.Context()
			s := openStore(ctx)
			if password == "" {
				p, err := readPassword("Password: ")
				if exitOnError(err) {
					return
				}
				password = p
			}
			if exitOnError(run(s.Auth, ctx, args[0], password)) {
				return
			}
			s.Wait()
			st := s.Auth.State()
			emit(st.User, func() string { return render.New(pretty).Profile(st) })
		},
	}
	cmd.Flags().StringVarP(&password, "password", "p", "", "Password (prompted when omitted)")
	return cmd
}

func signupCmd() *cobra.Command {
	return credentialsCmd("signup", "Create an account and sign in", (*auth.Slice).Signup)
}

func loginCmd() *cobra.Command {
	return credentialsCmd("login", "Sign in", (*auth.Slice).Login)
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget the local cart and orders",
		Run: func(cmd *cobra.Command, args []string) {
			s := openStore(cmd.Context())
			s.Auth.Logout(cmd.Context())
			fmt.Println("Signed out")
		},
	}
}

func whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the current session",
		Run: func(cmd *cobra.Command, args []string) {
			s := openStore(cmd.Context())
			claims, ok := s.Auth.Claims()
			info := map[string]interface{}{"signed_in": s.SignedIn()}
			if ok {
				info["user_id"] = claims.UserID
				if !claims.ExpiresAt.IsZero() {
					info["expires_at"] = claims.ExpiresAt.Format(time.RFC3339)
					info["expired"] = claims.Expired(time.Now())
				}
			}
			emit(info, func() string {
				if !s.SignedIn() {
					return "Not signed in\n"
				}
				w := fmt.Sprintf("Signed in %s user %s\n", render.BoolIcon(true), claims.UserID)
				if !claims.ExpiresAt.IsZero() {
					w += fmt.Sprintf("Token expires %s\n", claims.ExpiresAt.Local().Format(time.RFC1123))
				}
				return w
			})
		},
	}
}

func profileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Show or update the profile",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Fetch and show the profile",
		Run: func(cmd *cobra.Command, args []string) {
			s := openStore(cmd.Context())
			if !requireSession(s) {
				return
			}
			if exitOnError(s.Auth.FetchProfile(cmd.Context())) {
				return
			}
			st := s.Auth.State()
			emit(st.User, func() string { return render.New(pretty).Profile(st) })
		},
	}

	var update auth.ProfileUpdate
	updateCmd := &cobra.Command{
		Use:   "update",
		Short: "Update name and phone number",
		Run: func(cmd *cobra.Command, args []string) {
			s := openStore(cmd.Context())
			if !requireSession(s) {
				return
			}
			if cur := s.Auth.State().User; cur != nil {
				if !cmd.Flags().Changed("first-name") {
					update.FirstName = cur.FirstName
				}
				if !cmd.Flags().Changed("last-name") {
					update.LastName = cur.LastName
				}
				if !cmd.Flags().Changed("phone") {
					update.PhoneNumber = cur.PhoneNumber
				}
			}
			if exitOnError(s.Auth.UpdateProfile(cmd.Context(), update)) {
				return
			}
			s.Wait()
			st := s.Auth.State()
			emit(st.User, func() string { return render.New(pretty).Profile(st) })
		},
	}
	updateCmd.Flags().StringVar(&update.FirstName, "first-name", "", "First name")
	updateCmd.Flags().StringVar(&update.LastName, "last-name", "", "Last name")
	updateCmd.Flags().StringVar(&update.PhoneNumber, "phone", "", "Phone number, e.g. +79991234567")

	cmd.AddCommand(showCmd, updateCmd)
	return cmd
}
