package cli

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/DeBrosOfficial/rnshub/pkg/mesh"
	"github.com/DeBrosOfficial/rnshub/pkg/propagation"
)

func newNodesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "nodes",
		Short: "List propagation nodes known to a running hub",
		Args:  cobra.NoArgs,
		RunE:  listNodes,
	}
}

func newBestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "best",
		Short: "Show the outbound propagation node of a running hub",
		Args:  cobra.NoArgs,
		RunE:  showBest,
	}
}

func newAnnounceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "announce <destination_hash>",
		Short: "Inject a propagation node announce into a running hub",
		Args:  cobra.ExactArgs(1),
		RunE:  sendAnnounce,
	}
	cmd.Flags().String("app-name", "lxmf", "Application name of the announce aspect")
	cmd.Flags().String("name", "", "Node name carried in the announce metadata")
	cmd.Flags().Int("hops", 0, "Hop count the announce was received with")
	cmd.Flags().Int("stamp-cost", 16, "Advertised stamp cost")
	cmd.Flags().Int("transfer-limit", 256, "Per-transfer limit in KB")
	cmd.Flags().Int("sync-limit", 10240, "Per-sync limit in KB")
	cmd.Flags().Bool("disabled", false, "Announce propagation as disabled")
	return cmd
}

func listNodes(cmd *cobra.Command, _ []string) error {
	var result struct {
		Nodes []propagation.CandidateStatus `json:"nodes"`
		Count int                           `json:"count"`
	}
	if err := callAPI(cmd.Context(), http.MethodGet, apiURL(cmd)+"/v1/propagation/nodes", nil, &result); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(result.Nodes) == 0 {
		fmt.Fprintln(out, "No propagation nodes known")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "DESTINATION\tNAME\tHOPS\tSTAMP COST\tLAST ANNOUNCE\tELIGIBLE")
	for _, n := range result.Nodes {
		name := n.Name
		if name == "" {
			name = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			n.Destination,
			name,
			formatOptional(n.LiveHops),
			formatOptional(n.StampCost),
			n.LastAnnouncedAt.Local().Format("2006-01-02 15:04:05"),
			eligibility(n),
		)
	}
	w.Flush()

	fmt.Fprintf(out, "\nTotal: %d\n", result.Count)
	return nil
}

func showBest(cmd *cobra.Command, _ []string) error {
	var result struct {
		Destination string                 `json:"destination"`
		Candidate   *propagation.Candidate `json:"candidate"`
	}
	if err := callAPI(cmd.Context(), http.MethodGet, apiURL(cmd)+"/v1/propagation/best", nil, &result); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, result.Destination)
	if c := result.Candidate; c != nil {
		if c.Name != "" {
			fmt.Fprintf(out, "  name:       %s\n", c.Name)
		}
		fmt.Fprintf(out, "  hops:       %s\n", formatOptional(c.Hops))
		fmt.Fprintf(out, "  stamp cost: %s\n", formatOptional(c.StampCost))
		fmt.Fprintf(out, "  announced:  %s ago\n", time.Since(c.LastAnnouncedAt).Round(time.Second))
	}
	return nil
}

func sendAnnounce(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	appName, _ := flags.GetString("app-name")
	name, _ := flags.GetString("name")
	hops, _ := flags.GetInt("hops")
	stampCost, _ := flags.GetInt("stamp-cost")
	transferLimit, _ := flags.GetInt("transfer-limit")
	syncLimit, _ := flags.GetInt("sync-limit")
	disabled, _ := flags.GetBool("disabled")

	data, err := mesh.EncodePropagationAnnounceData(mesh.PropagationNodeInfo{
		Enabled:       !disabled,
		TransferLimit: transferLimit,
		SyncLimit:     syncLimit,
		StampCost:     stampCost,
		Name:          name,
	})
	if err != nil {
		return err
	}

	req := map[string]any{
		"destination_hash": strings.TrimSpace(args[0]),
		"app_data":         base64.StdEncoding.EncodeToString(data),
		"aspect":           strings.TrimSuffix(appName, ".") + "." + propagation.AspectSuffix,
		"hops":             hops,
	}
	var result struct {
		Status      string `json:"status"`
		Destination string `json:"destination"`
	}
	if err := callAPI(cmd.Context(), http.MethodPost, apiURL(cmd)+"/v1/mesh/announces", req, &result); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", result.Status, result.Destination)
	return nil
}

func formatOptional(v *int) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *v)
}

func eligibility(n propagation.CandidateStatus) string {
	switch {
	case n.Eligible:
		return "yes"
	case n.Stale:
		return "stale"
	case !n.Reachable:
		return "no path"
	default:
		return "no"
	}
}
