package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/foxzi/wacampaign/internal/instance"
)

var qrOut string

var instanceCmd = &cobra.Command{
	Use:   "instance",
	Short: "Instance lifecycle commands",
}

var instanceCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Register a new instance and save its first QR code",
	Args:  cobra.ExactArgs(1),
	RunE:  runInstanceCreate,
}

var instanceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored instances",
	RunE:  runInstanceList,
}

var instanceCheckCmd = &cobra.Command{
	Use:   "check <name>",
	Short: "Ask the gateway whether the instance is connected",
	Args:  cobra.ExactArgs(1),
	RunE:  runInstanceCheck,
}

var instanceRefreshQRCmd = &cobra.Command{
	Use:   "refresh-qr <name>",
	Short: "Fetch a fresh pairing QR code",
	Args:  cobra.ExactArgs(1),
	RunE:  runInstanceRefreshQR,
}

var instanceQRCmd = &cobra.Command{
	Use:   "qr <name>",
	Short: "Write the stored QR code to a file",
	Args:  cobra.ExactArgs(1),
	RunE:  runInstanceQR,
}

var instanceDisconnectCmd = &cobra.Command{
	Use:   "disconnect <name>",
	Short: "Mark the instance as disconnected locally",
	Args:  cobra.ExactArgs(1),
	RunE:  runInstanceDisconnect,
}

func init() {
	for _, c := range []*cobra.Command{instanceCreateCmd, instanceRefreshQRCmd, instanceQRCmd} {
		c.Flags().StringVarP(&qrOut, "out", "o", "", "Write the QR code image to this file")
	}

	instanceCmd.AddCommand(
		instanceCreateCmd,
		instanceListCmd,
		instanceCheckCmd,
		instanceRefreshQRCmd,
		instanceQRCmd,
		instanceDisconnectCmd,
	)
	rootCmd.AddCommand(instanceCmd)
}

func runInstanceCreate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	application, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer application.Shutdown(ctx)

	inst, err := application.Instances().Create(ctx, args[0])
	if err != nil {
		return describeError("create failed", err)
	}

	fmt.Printf("Instance created: %s (%s)\n", inst.Name, inst.Status)
	return writeQR(inst.QRCode)
}

func runInstanceList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	application, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer application.Shutdown(ctx)

	list, err := application.Instances().Instances(ctx)
	if err != nil {
		return fmt.Errorf("failed to list instances: %w", err)
	}

	if len(list) == 0 {
		fmt.Println("No instances")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSTATUS\tQR\tCREATED\tUPDATED")
	fmt.Fprintln(w, "----\t------\t--\t-------\t-------")

	for _, inst := range list {
		qr := "no"
		if inst.HasQRCode() {
			qr = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			inst.Name,
			inst.Status,
			qr,
			inst.CreatedAt.Format("2006-01-02 15:04"),
			inst.UpdatedAt.Format("2006-01-02 15:04"),
		)
	}

	w.Flush()
	return nil
}

func runInstanceCheck(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	application, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer application.Shutdown(ctx)

	sess, err := application.Instances().CheckStatus(ctx, args[0])
	if err != nil {
		return describeError("check failed", err)
	}

	printSession(sess)
	return nil
}

func runInstanceRefreshQR(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	application, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer application.Shutdown(ctx)

	m := application.Instances()
	sess, err := m.RefreshQR(ctx, args[0])
	if err != nil {
		return describeError("refresh failed", err)
	}
	printSession(sess)

	qr, err := m.QRCode(ctx, args[0])
	if err != nil {
		return describeError("read qr failed", err)
	}
	return writeQR(qr)
}

func runInstanceQR(cmd *cobra.Command, args []string) error {
	if qrOut == "" {
		return fmt.Errorf("output file is required (use -o flag)")
	}

	ctx := cmd.Context()
	application, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer application.Shutdown(ctx)

	qr, err := application.Instances().QRCode(ctx, args[0])
	if err != nil {
		return describeError("read qr failed", err)
	}
	return writeQR(qr)
}

func runInstanceDisconnect(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	application, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer application.Shutdown(ctx)

	sess, err := application.Instances().Disconnect(ctx, args[0])
	if err != nil {
		return describeError("disconnect failed", err)
	}

	printSession(sess)
	return nil
}

func printSession(sess *instance.Session) {
	fmt.Printf("Instance: %s\n", sess.Name)
	fmt.Printf("  Phase:  %s\n", sess.Phase)
	fmt.Printf("  Status: %s\n", sess.Status)
	fmt.Printf("  QR:     %v\n", sess.HasQR)
	if sess.LastError != "" {
		fmt.Printf("  Error:  %s\n", sess.LastError)
	}
}

func writeQR(qr []byte) error {
	if qrOut == "" || len(qr) == 0 {
		return nil
	}
	if err := os.WriteFile(qrOut, qr, 0644); err != nil {
		return fmt.Errorf("failed to write qr code: %w", err)
	}
	fmt.Printf("QR code written to %s\n", qrOut)
	return nil
}
