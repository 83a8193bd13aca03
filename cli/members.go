package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"librarian/library"
)

func (a *app) memberCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "member",
		Aliases: []string{"members"},
		Short:   "Manage members",
	}
	cmd.AddCommand(
		a.memberAddCommand(),
		a.memberListCommand(),
		a.memberShowCommand(),
		a.memberUpdateCommand(),
		a.memberDeleteCommand(),
	)
	return cmd
}

func (a *app) memberAddCommand() *cobra.Command {
	var nm library.NewMember
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a member",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			mgr, err := a.manager(cmd.Context())
			if err != nil {
				return err
			}
			id, err := mgr.AddMember(cmd.Context(), nm)
			if err != nil {
				return err
			}
			if a.jsonOut {
				m, err := mgr.GetMember(cmd.Context(), id)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), m)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added member %d: %s\n", id, strings.TrimSpace(nm.Name))
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&nm.Name, "name", "", "full name")
	f.StringVar(&nm.Email, "email", "", "email address (unique)")
	f.StringVar(&nm.Phone, "phone", "", "phone number")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func (a *app) memberListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list [query]",
		Short: "List members, optionally matching name, email or phone",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := a.manager(cmd.Context())
			if err != nil {
				return err
			}
			members, err := mgr.ListMembers(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			if a.jsonOut {
				return writeJSON(cmd.OutOrStdout(), members)
			}
			if len(members) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No members found.")
				return nil
			}
			t := newTable("ID", "Name", "Email", "Phone", "Joined")
			for _, m := range members {
				t.add(strconv.FormatInt(m.ID, 10), m.Name, optional(m.Email), optional(m.Phone), date(m.CreatedAt))
			}
			t.render(cmd.OutOrStdout())
			return nil
		},
	}
}

func (a *app) memberShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a member and their loans",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("member", args[0])
			if err != nil {
				return err
			}
			mgr, err := a.manager(cmd.Context())
			if err != nil {
				return err
			}
			m, err := mgr.GetMember(cmd.Context(), id)
			if err != nil {
				return err
			}
			loans, err := mgr.ListLoans(cmd.Context(), library.LoanFilter{MemberID: id})
			if err != nil {
				return err
			}
			if a.jsonOut {
				return writeJSON(cmd.OutOrStdout(), struct {
					library.Member
					Loans []library.LoanDetail `json:"loans"`
				}{m, loans})
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Member %d\n", m.ID)
			fmt.Fprintf(w, "  Name:   %s\n", m.Name)
			fmt.Fprintf(w, "  Email:  %s\n", optional(m.Email))
			fmt.Fprintf(w, "  Phone:  %s\n", optional(m.Phone))
			fmt.Fprintf(w, "  Joined: %s\n", date(m.CreatedAt))
			fmt.Fprintln(w)
			renderLoans(w, loans, mgr.Now())
			return nil
		},
	}
}

func (a *app) memberUpdateCommand() *cobra.Command {
	var name, email, phone string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Change selected fields of a member; an empty --email or --phone clears it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("member", args[0])
			if err != nil {
				return err
			}
			f := cmd.Flags()
			var u library.MemberUpdate
			if f.Changed("name") {
				u.Name = &name
			}
			if f.Changed("email") {
				u.Email = &email
			}
			if f.Changed("phone") {
				u.Phone = &phone
			}
			if u.Empty() {
				return fmt.Errorf("nothing to update; pass at least one field flag")
			}

			mgr, err := a.manager(cmd.Context())
			if err != nil {
				return err
			}
			if err := mgr.UpdateMember(cmd.Context(), id, u); err != nil {
				return err
			}
			m, err := mgr.GetMember(cmd.Context(), id)
			if err != nil {
				return err
			}
			if a.jsonOut {
				return writeJSON(cmd.OutOrStdout(), m)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated member %d: %s\n", m.ID, m.Name)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&name, "name", "", "new name")
	f.StringVar(&email, "email", "", "new email")
	f.StringVar(&phone, "phone", "", "new phone")
	return cmd
}

func (a *app) memberDeleteCommand() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a member and their loan history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID("member", args[0])
			if err != nil {
				return err
			}
			mgr, err := a.manager(cmd.Context())
			if err != nil {
				return err
			}
			m, err := mgr.GetMember(cmd.Context(), id)
			if err != nil {
				return err
			}
			if !yes {
				ok, err := confirm(cmd.InOrStdin(), cmd.OutOrStdout(), fmt.Sprintf("Delete member %d %q and their loan history?", id, m.Name))
				if err != nil || !ok {
					return err
				}
			}
			if err := mgr.DeleteMember(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted member %d.\n", id)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}
