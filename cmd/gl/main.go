package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"guardline/internal/app"
	"guardline/internal/config"
	"guardline/internal/db"
	"guardline/internal/domain"
	"guardline/internal/engine"
	"guardline/internal/engine/access"
	"guardline/internal/migrate"
	"guardline/internal/server"
	"guardline/internal/timeline"
)

var rootCmd = &cobra.Command{
	Use:   "gl",
	Short: "Guardline CLI",
	Long: `Guardline manages letters of guarantee end to end: records, the
instructions issued against them, bank logistics, maker-checker approvals,
and the audited lifecycle timeline every action lands on.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("GUARDLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-email", "local@guardline", "acting user email")
	rootCmd.PersistentFlags().String("tenant", "", "tenant id (optional when only one exists)")
	rootCmd.PersistentFlags().String("role", "", "override the stored role for this invocation")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-email", rootCmd.PersistentFlags().Lookup("actor-email"))
	_ = viper.BindPFlag("tenant", rootCmd.PersistentFlags().Lookup("tenant"))
	_ = viper.BindPFlag("role", rootCmd.PersistentFlags().Lookup("role"))
}

func registerCommands() {
	rootCmd.AddCommand(tenantCmd())
	rootCmd.AddCommand(recordCmd())
	rootCmd.AddCommand(instructionCmd())
	rootCmd.AddCommand(timelineCmd())
	rootCmd.AddCommand(approvalCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(serveCmd())
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.Load(workspace)
	if err != nil {
		return err
	}
	return fn(ctx, engine.New(conn, cfg))
}

// actorFor resolves the acting principal against a known tenant.
func actorFor(ctx context.Context, e engine.Engine) (access.Actor, error) {
	tenantID, err := app.ResolveTenant(ctx, e.Repo, viper.GetString("tenant"))
	if err != nil {
		return access.Actor{}, err
	}
	return app.ResolveActor(ctx, e.Access, viper.GetString("actor-email"), tenantID, viper.GetString("role"))
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "tenant", Short: "Manage tenants"}
	cmd.AddCommand(tenantCreateCmd())
	cmd.AddCommand(tenantListCmd())
	cmd.AddCommand(tenantStatusCmd())
	cmd.AddCommand(tenantGrantCmd())
	return cmd
}

func tenantCreateCmd() *cobra.Command {
	var id, name, adminEmail string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return fmt.Errorf("--name required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.CreateTenant(ctx, id, name, adminEmail)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "tenant id (generated when empty)")
	cmd.Flags().StringVar(&name, "name", "", "tenant name")
	cmd.Flags().StringVar(&adminEmail, "admin-email", "", "first checker's email")
	return cmd
}

func tenantListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List tenants",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tenants, err := e.Repo.ListTenants(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(tenants)
			})
		},
	}
}

func tenantStatusCmd() *cobra.Command {
	var id, status, subscriptionEnd string
	cmd := &cobra.Command{
		Use:   "set-status",
		Short: "Move a tenant between active, grace and expired",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" || status == "" {
				return fmt.Errorf("--id and --status required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var subEnd *string
				if subscriptionEnd != "" {
					subEnd = &subscriptionEnd
				}
				return e.SetTenantStatus(ctx, id, status, subEnd)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "tenant id")
	cmd.Flags().StringVar(&status, "status", "", "active|grace|expired")
	cmd.Flags().StringVar(&subscriptionEnd, "subscription-end", "", "RFC3339 subscription end")
	return cmd
}

func tenantGrantCmd() *cobra.Command {
	var email, tenantID, role string
	cmd := &cobra.Command{
		Use:   "grant",
		Short: "Grant a role within a tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			if email == "" || role == "" {
				return fmt.Errorf("--email and --grant-role required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				resolved, err := app.ResolveTenant(ctx, e.Repo, tenantID)
				if err != nil {
					return err
				}
				return e.AddActor(ctx, email, resolved, role)
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "actor email")
	cmd.Flags().StringVar(&tenantID, "tenant-id", "", "tenant id")
	cmd.Flags().StringVar(&role, "grant-role", "", "admin|maker|checker|viewer")
	return cmd
}

func recordCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "record", Short: "Manage LG records"}
	cmd.AddCommand(recordCreateCmd())
	cmd.AddCommand(recordListCmd())
	cmd.AddCommand(recordShowCmd())
	cmd.AddCommand(recordExtendCmd())
	cmd.AddCommand(recordAmendCmd())
	cmd.AddCommand(recordReleaseCmd())
	cmd.AddCommand(recordLiquidateCmd())
	cmd.AddCommand(recordDecreaseCmd())
	cmd.AddCommand(recordActivateCmd())
	return cmd
}

func recordCreateCmd() *cobra.Command {
	var lgNumber, lgType, beneficiary, issuingBank, currency, issuance, expiry string
	var amount float64
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a letter of guarantee",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := actorFor(ctx, e)
				if err != nil {
					return err
				}
				rec, err := e.CreateRecord(ctx, engine.RecordCreateOptions{
					TenantID:     actor.TenantID,
					LGNumber:     lgNumber,
					LGType:       lgType,
					Beneficiary:  beneficiary,
					IssuingBank:  issuingBank,
					Currency:     currency,
					Amount:       amount,
					IssuanceDate: issuance,
					ExpiryDate:   expiry,
					Actor:        actor,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(rec)
			})
		},
	}
	cmd.Flags().StringVar(&lgNumber, "lg-number", "", "bank reference number")
	cmd.Flags().StringVar(&lgType, "lg-type", "", "guarantee type")
	cmd.Flags().StringVar(&beneficiary, "beneficiary", "", "beneficiary name")
	cmd.Flags().StringVar(&issuingBank, "issuing-bank", "", "issuing bank")
	cmd.Flags().StringVar(&currency, "currency", "", "ISO currency code")
	cmd.Flags().Float64Var(&amount, "amount", 0, "guaranteed amount")
	cmd.Flags().StringVar(&issuance, "issuance-date", "", "RFC3339 issuance date")
	cmd.Flags().StringVar(&expiry, "expiry-date", "", "RFC3339 expiry date")
	return cmd
}

func recordListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the tenant's records",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := actorFor(ctx, e)
				if err != nil {
					return err
				}
				records, err := e.Repo.ListRecords(ctx, actor.TenantID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(records)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "LG Number", "Beneficiary", "Amount", "Status", "Expiry"})
				for _, r := range records {
					tw.AppendRow(table.Row{r.ID, r.LGNumber, r.Beneficiary,
						fmt.Sprintf("%s %.2f", r.Currency, r.Amount), r.Status, r.ExpiryDate})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func recordShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <record-id>",
		Short: "Show one record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rec, err := e.Repo.GetRecord(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(rec)
			})
		},
	}
	return cmd
}

func recordExtendCmd() *cobra.Command {
	var newExpiry string
	cmd := &cobra.Command{
		Use:   "extend <record-id>",
		Short: "Extend the expiry date",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := actorFor(ctx, e)
				if err != nil {
					return err
				}
				inst, err := e.ExtendRecord(ctx, args[0], newExpiry, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(inst)
			})
		},
	}
	cmd.Flags().StringVar(&newExpiry, "new-expiry", "", "RFC3339 new expiry date")
	return cmd
}

func recordAmendCmd() *cobra.Command {
	var changesJSON string
	cmd := &cobra.Command{
		Use:   "amend <record-id>",
		Short: "Amend record fields",
		Long:  `Changes are given as JSON, e.g. '{"beneficiary":{"old":"A","new":"B"}}'.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var changes map[string]engine.FieldChange
			if err := json.Unmarshal([]byte(changesJSON), &changes); err != nil {
				return fmt.Errorf("invalid --changes: %w", err)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := actorFor(ctx, e)
				if err != nil {
					return err
				}
				inst, err := e.AmendRecord(ctx, args[0], changes, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(inst)
			})
		},
	}
	cmd.Flags().StringVar(&changesJSON, "changes", "{}", "JSON change map")
	return cmd
}

func recordReleaseCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "release <record-id>",
		Short: "Release the guarantee",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := actorFor(ctx, e)
				if err != nil {
					return err
				}
				inst, err := e.ReleaseRecord(ctx, args[0], reason, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(inst)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "release reason")
	return cmd
}

func recordLiquidateCmd() *cobra.Command {
	var amount float64
	cmd := &cobra.Command{
		Use:   "liquidate <record-id>",
		Short: "Liquidate fully or partially",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := actorFor(ctx, e)
				if err != nil {
					return err
				}
				inst, err := e.LiquidateRecord(ctx, args[0], amount, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(inst)
			})
		},
	}
	cmd.Flags().Float64Var(&amount, "amount", 0, "liquidation amount")
	return cmd
}

func recordDecreaseCmd() *cobra.Command {
	var newAmount float64
	cmd := &cobra.Command{
		Use:   "decrease <record-id>",
		Short: "Decrease the guaranteed amount",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := actorFor(ctx, e)
				if err != nil {
					return err
				}
				inst, err := e.DecreaseAmount(ctx, args[0], newAmount, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(inst)
			})
		},
	}
	cmd.Flags().Float64Var(&newAmount, "new-amount", 0, "new guaranteed amount")
	return cmd
}

func recordActivateCmd() *cobra.Command {
	var paymentRef string
	cmd := &cobra.Command{
		Use:   "activate <record-id>",
		Short: "Activate a non-operative guarantee",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := actorFor(ctx, e)
				if err != nil {
					return err
				}
				inst, err := e.ActivateNonOperative(ctx, args[0], paymentRef, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(inst)
			})
		},
	}
	cmd.Flags().StringVar(&paymentRef, "payment-reference", "", "advance payment reference")
	return cmd
}

func instructionCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "instruction", Short: "Manage instructions"}
	cmd.AddCommand(instructionListCmd())
	cmd.AddCommand(instructionDeliveryCmd())
	cmd.AddCommand(instructionBankReplyCmd())
	cmd.AddCommand(instructionRemindCmd())
	cmd.AddCommand(instructionCancelCmd())
	return cmd
}

func instructionListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <record-id>",
		Short: "List a record's instructions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				instructions, err := e.Repo.ListInstructions(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(instructions)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Serial", "Type", "Status", "Delivered", "Bank Reply", "Countdown"})
				for _, in := range instructions {
					delivered, reply := "-", "-"
					if in.DeliveryDate != nil {
						delivered = *in.DeliveryDate
					}
					if in.BankReplyDate != nil {
						reply = *in.BankReplyDate
					}
					tw.AppendRow(table.Row{in.ID, in.Serial, in.InstructionType, in.Status,
						delivered, reply, e.CancelCountdown(in)})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func parseInstructionArg(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("instruction id must be a positive integer, got %q", arg)
	}
	return id, nil
}

func instructionDeliveryCmd() *cobra.Command {
	var date, method string
	cmd := &cobra.Command{
		Use:   "delivery <instruction-id>",
		Short: "Record instruction delivery",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseInstructionArg(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := actorFor(ctx, e)
				if err != nil {
					return err
				}
				inst, err := e.RecordDelivery(ctx, id, date, method, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(inst)
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "RFC3339 delivery date (now when empty)")
	cmd.Flags().StringVar(&method, "method", "", "delivery method")
	return cmd
}

func instructionBankReplyCmd() *cobra.Command {
	var date, notes string
	cmd := &cobra.Command{
		Use:   "bank-reply <instruction-id>",
		Short: "Record the bank's reply",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseInstructionArg(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := actorFor(ctx, e)
				if err != nil {
					return err
				}
				inst, err := e.RecordBankReply(ctx, id, date, notes, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(inst)
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "RFC3339 reply date (now when empty)")
	cmd.Flags().StringVar(&notes, "notes", "", "reply notes")
	return cmd
}

func instructionRemindCmd() *cobra.Command {
	var bankName string
	cmd := &cobra.Command{
		Use:   "remind <instruction-id>",
		Short: "Send a reminder to the bank",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseInstructionArg(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := actorFor(ctx, e)
				if err != nil {
					return err
				}
				inst, err := e.SendReminder(ctx, id, bankName, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(inst)
			})
		},
	}
	cmd.Flags().StringVar(&bankName, "bank", "", "bank name")
	return cmd
}

func instructionCancelCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "cancel <instruction-id>",
		Short: "Cancel the latest instruction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseInstructionArg(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := actorFor(ctx, e)
				if err != nil {
					return err
				}
				inst, err := e.CancelInstruction(ctx, id, reason, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(inst)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "cancellation reason")
	return cmd
}

func timelineCmd() *cobra.Command {
	var types, categories []string
	var all, other bool
	var from, to string
	cmd := &cobra.Command{
		Use:   "timeline <record-id>",
		Short: "Show a record's lifecycle timeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := actorFor(ctx, e)
				if err != nil {
					return err
				}
				fromT, err := parseDayFlag(from)
				if err != nil {
					return err
				}
				toT, err := parseDayFlag(to)
				if err != nil {
					return err
				}
				vm, err := e.Timeline(ctx, engine.TimelineOptions{
					RecordID:     args[0],
					Types:        types,
					Categories:   categories,
					IncludeOther: other,
					NoSelection:  all,
					From:         fromT,
					To:           toT,
					Actor:        actor,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(vm)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"When", "Actor", "Category", "Event", "Details", "Actions"})
				for _, entry := range vm.Entries {
					tw.AppendRow(table.Row{
						entry.Event.TS,
						entry.Actor,
						entry.Style.Category,
						entry.Style.Icon + " " + entry.Event.ActionType,
						entry.Summary,
						actionFlags(entry.Actions),
					})
				}
				tw.Render()
				if vm.ActiveFilterCount > 0 {
					fmt.Printf("active filters: %d\n", vm.ActiveFilterCount)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&types, "types", nil, "restrict to these action types")
	cmd.Flags().StringSliceVar(&categories, "category", nil, "restrict to whole categories by name")
	cmd.Flags().BoolVar(&other, "other", false, "include unmapped action types")
	cmd.Flags().BoolVar(&all, "all", false, "show every event including system logs")
	cmd.Flags().StringVar(&from, "from", "", "from date (YYYY-MM-DD, inclusive)")
	cmd.Flags().StringVar(&to, "to", "", "to date (YYYY-MM-DD, inclusive)")
	return cmd
}

func parseDayFlag(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q (want YYYY-MM-DD)", s)
	}
	return &t, nil
}

func actionFlags(a timeline.Actions) string {
	var flags []string
	if a.CancelEligible {
		flags = append(flags, "cancel")
	}
	if a.SendReminder {
		flags = append(flags, "remind")
	}
	if a.ViewIssuedReminder {
		flags = append(flags, "view-reminder")
	}
	if a.Delivery == timeline.DocRecordable {
		flags = append(flags, "record-delivery")
	}
	if a.BankReply == timeline.DocRecordable {
		flags = append(flags, "record-reply")
	}
	if len(flags) == 0 {
		return "-"
	}
	return strings.Join(flags, ",")
}

func approvalCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "approval", Short: "Maker-checker approvals"}
	cmd.AddCommand(approvalSubmitCmd())
	cmd.AddCommand(approvalListCmd())
	cmd.AddCommand(approvalDecideCmd("approve", true))
	cmd.AddCommand(approvalDecideCmd("reject", false))
	cmd.AddCommand(approvalWithdrawCmd())
	return cmd
}

func approvalSubmitCmd() *cobra.Command {
	var actionType, payload string
	cmd := &cobra.Command{
		Use:   "submit <record-id>",
		Short: "Submit a request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if actionType == "" {
				return fmt.Errorf("--action required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := actorFor(ctx, e)
				if err != nil {
					return err
				}
				ar, err := e.SubmitApproval(ctx, args[0], actionType, payload, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(ar)
			})
		},
	}
	cmd.Flags().StringVar(&actionType, "action", "", "requested action type")
	cmd.Flags().StringVar(&payload, "payload", "{}", "JSON action payload")
	return cmd
}

func approvalListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the tenant's requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := actorFor(ctx, e)
				if err != nil {
					return err
				}
				approvals, err := e.Repo.ListApprovals(ctx, actor.TenantID, status)
				if err != nil {
					return err
				}
				return printJSONOrTable(approvals)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	return cmd
}

func approvalDecideCmd(use string, approve bool) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   use + " <approval-id>",
		Short: strings.ToUpper(use[:1]) + use[1:] + " a pending request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := actorFor(ctx, e)
				if err != nil {
					return err
				}
				ar, err := e.DecideApproval(ctx, args[0], approve, reason, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(ar)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "decision reason")
	return cmd
}

func approvalWithdrawCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "withdraw <approval-id>",
		Short: "Withdraw a pending request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := actorFor(ctx, e)
				if err != nil {
					return err
				}
				ar, err := e.WithdrawApproval(ctx, args[0], actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(ar)
			})
		},
	}
}

func apikeyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	cmd.AddCommand(apikeyCreateCmd())
	cmd.AddCommand(apikeyListCmd())
	cmd.AddCommand(apikeyDeleteCmd())
	return cmd
}

func apikeyCreateCmd() *cobra.Command {
	var email, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Mint an API key; the plaintext is printed once",
		RunE: func(cmd *cobra.Command, args []string) error {
			if email == "" {
				return fmt.Errorf("--email required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				key, plaintext, err := e.CreateAPIKey(ctx, email, name)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"key": key, "plaintext": plaintext})
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "actor email")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	var email string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				keys, err := e.Repo.ListAPIKeys(ctx, email)
				if err != nil {
					return err
				}
				return printJSONOrTable(keys)
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "filter by actor email")
	return cmd
}

func apikeyDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key-id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Repo.DeleteAPIKey(ctx, args[0])
			})
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Inspect and override reminder thresholds"}
	cmd.AddCommand(configShowCmd())
	cmd.AddCommand(configSetCmd())
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the tenant's effective thresholds",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tenantID, err := app.ResolveTenant(ctx, e.Repo, viper.GetString("tenant"))
				if err != nil {
					return err
				}
				th := e.Repo.Thresholds(ctx, tenantID, e.Config.Thresholds())
				return printJSONOrTable(map[string]any{
					"days_since_delivery":       th.DaysSinceDelivery,
					"days_since_issuance":       th.DaysSinceIssuance,
					"max_days_since_issuance":   th.MaxDaysSinceIssuance,
					"cancellation_window_hours": int(e.CancellationWindow().Hours()),
				})
			})
		},
	}
}

func configSetCmd() *cobra.Command {
	var key, value string
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Override a threshold for the tenant",
		Long: `Known keys: reminder.days_since_delivery, reminder.days_since_issuance,
reminder.max_days_since_issuance, cancellation.window_hours.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if key == "" || value == "" {
				return fmt.Errorf("--key and --value required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tenantID, err := app.ResolveTenant(ctx, e.Repo, viper.GetString("tenant"))
				if err != nil {
					return err
				}
				return e.Repo.SetSetting(ctx, tenantID, key, value)
			})
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "setting key")
	cmd.Flags().StringVar(&value, "value", "", "setting value")
	return cmd
}

func logCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "log", Short: "Lifecycle event log"}
	cmd.AddCommand(logTailCmd())
	return cmd
}

func logTailCmd() *cobra.Command {
	var limit int
	var follow bool
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the newest lifecycle events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.RecentEvents(ctx, limit)
				if err != nil {
					return err
				}
				var cursor int64
				for i := len(events) - 1; i >= 0; i-- {
					printEventLine(events[i])
					if events[i].ID > cursor {
						cursor = events[i].ID
					}
				}
				if !follow {
					return nil
				}
				ticker := time.NewTicker(2 * time.Second)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return nil
					case <-ticker.C:
					}
					fresh, err := e.Repo.EventsSince(ctx, cursor, 100)
					if err != nil {
						return err
					}
					for _, ev := range fresh {
						printEventLine(ev)
						cursor = ev.ID
					}
				}
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of events to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "poll for new events")
	return cmd
}

func printEventLine(ev domain.LifecycleEvent) {
	actor := "System"
	if ev.UserEmail != nil && *ev.UserEmail != "" {
		actor = *ev.UserEmail
	}
	summary := timeline.FormatDetails(ev.ActionType, decodeDetailsMap(ev.Details))
	fmt.Printf("%s  %-28s %-24s record=%s  %s\n", ev.TS, ev.ActionType, actor, ev.RecordID, summary)
}

func decodeDetailsMap(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil
	}
	return m
}

func sweepCmd() *cobra.Command {
	var horizonDays int
	var recipient string
	cmd := &cobra.Command{
		Use:   "sweep-renewals",
		Short: "Append renewal reminders for records nearing expiry",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tenantID, err := app.ResolveTenant(ctx, e.Repo, viper.GetString("tenant"))
				if err != nil {
					return err
				}
				swept, err := e.SweepRenewalReminders(ctx, tenantID, horizonDays, recipient)
				if err != nil {
					return err
				}
				fmt.Printf("swept %d record(s)\n", swept)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&horizonDays, "horizon-days", 30, "expiry horizon in days")
	cmd.Flags().StringVar(&recipient, "recipient", "", "notification recipient")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{JWTSecret: os.Getenv("GUARDLINE_JWT_SECRET")}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("GUARDLINE_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			server.StartWebhookDispatcher(e)
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Guardline API on http://%s%s (OpenAPI at %s/openapi.json)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	return cmd
}
