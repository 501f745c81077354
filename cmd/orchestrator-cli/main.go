package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var apiHost string

func main() {
	rootCmd := &cobra.Command{
		Use:   "orchestrator-cli",
		Short: "Operator CLI for the call orchestrator",
		Long:  "A command-line tool for driving campaign lifecycle actions against the orchestrator's Control API.",
	}
	rootCmd.PersistentFlags().StringVar(&apiHost, "host", "http://localhost:8080", "Control API base URL")

	campaignCmd := &cobra.Command{
		Use:   "campaign",
		Short: "Manage campaigns",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List active campaigns",
		Run:   runList,
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a campaign",
		Run:   runCreate,
	}
	createCmd.Flags().String("name", "", "campaign name (required)")
	createCmd.Flags().String("agent-id", "", "AI agent id")
	createCmd.Flags().String("prompt", "", "agent conversational prompt")
	createCmd.Flags().String("first-utterance", "", "agent first utterance")
	createCmd.Flags().String("caller-id", "", "caller id to dial from")
	createCmd.Flags().String("region", "", "caller-id region")
	createCmd.Flags().Bool("rotate-caller-id", false, "enable smart caller-id rotation")
	createCmd.Flags().Int("max-concurrent", 0, "max concurrent calls (0 = server default)")
	createCmd.Flags().Int("call-delay-seconds", 0, "seconds between cycles (0 = server default)")

	getCmd := &cobra.Command{
		Use:   "get [id]",
		Short: "Show a campaign",
		Args:  cobra.ExactArgs(1),
		Run:   runGet,
	}

	startCmd := &cobra.Command{
		Use:   "start [id]",
		Short: "Start a campaign",
		Args:  cobra.ExactArgs(1),
		Run:   runAction("start"),
	}
	pauseCmd := &cobra.Command{
		Use:   "pause [id]",
		Short: "Pause a running campaign",
		Args:  cobra.ExactArgs(1),
		Run:   runAction("pause"),
	}
	resumeCmd := &cobra.Command{
		Use:   "resume [id]",
		Short: "Resume a paused campaign",
		Args:  cobra.ExactArgs(1),
		Run:   runAction("resume"),
	}
	stopCmd := &cobra.Command{
		Use:   "stop [id]",
		Short: "Stop a campaign",
		Args:  cobra.ExactArgs(1),
		Run:   runAction("stop"),
	}

	addContactCmd := &cobra.Command{
		Use:   "add-contact [id]",
		Short: "Enroll a contact in a campaign",
		Args:  cobra.ExactArgs(1),
		Run:   runAddContact,
	}
	addContactCmd.Flags().String("phone", "", "contact phone number (required)")
	addContactCmd.Flags().String("name", "", "contact name")
	addContactCmd.Flags().Int("priority", 0, "dialing priority")

	campaignCmd.AddCommand(listCmd, createCmd, getCmd, startCmd, pauseCmd, resumeCmd, stopCmd, addContactCmd)
	rootCmd.AddCommand(campaignCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func runList(cmd *cobra.Command, args []string) {
	resp, err := http.Get(apiHost + "/campaigns")
	if err != nil {
		fmt.Printf("Error reaching API: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		printAPIError(resp)
		return
	}

	var campaigns []map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&campaigns)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTATUS\tPLACED\tCOMPLETED\tFAILED")
	fmt.Fprintln(w, "--\t----\t------\t------\t---------\t------")
	for _, c := range campaigns {
		stats, _ := c["Stats"].(map[string]interface{})
		fmt.Fprintf(w, "%v\t%v\t%v\t%v\t%v\t%v\n",
			c["ID"], c["Name"], c["Status"], stats["CallsPlaced"], stats["CallsCompleted"], stats["CallsFailed"])
	}
	w.Flush()
}

func runGet(cmd *cobra.Command, args []string) {
	resp, err := http.Get(apiHost + "/campaigns/" + args[0])
	if err != nil {
		fmt.Printf("Error reaching API: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		printAPIError(resp)
		return
	}

	body, _ := io.ReadAll(resp.Body)
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, body, "", "  "); err != nil {
		fmt.Println(string(body))
		return
	}
	fmt.Println(pretty.String())
}

func runCreate(cmd *cobra.Command, args []string) {
	name, _ := cmd.Flags().GetString("name")
	if name == "" {
		fmt.Println("Error: --name is required")
		os.Exit(1)
	}
	agentID, _ := cmd.Flags().GetString("agent-id")
	prompt, _ := cmd.Flags().GetString("prompt")
	firstUtterance, _ := cmd.Flags().GetString("first-utterance")
	callerID, _ := cmd.Flags().GetString("caller-id")
	region, _ := cmd.Flags().GetString("region")
	rotate, _ := cmd.Flags().GetBool("rotate-caller-id")
	maxConcurrent, _ := cmd.Flags().GetInt("max-concurrent")
	callDelay, _ := cmd.Flags().GetInt("call-delay-seconds")

	body := map[string]interface{}{
		"name": name,
		"agent": map[string]interface{}{
			"agentId":        agentID,
			"prompt":         prompt,
			"firstUtterance": firstUtterance,
			"callerId":       callerID,
			"region":         region,
			"rotateCallerId": rotate,
		},
		"settings": map[string]interface{}{
			"maxConcurrentCalls": maxConcurrent,
			"callDelaySeconds":   callDelay,
		},
	}
	encoded, _ := json.Marshal(body)

	resp, err := http.Post(apiHost+"/campaigns", "application/json", strings.NewReader(string(encoded)))
	if err != nil {
		fmt.Printf("Error reaching API: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		printAPIError(resp)
		return
	}

	var created map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&created)
	fmt.Printf("campaign %v created\n", created["ID"])
}

func runAddContact(cmd *cobra.Command, args []string) {
	phone, _ := cmd.Flags().GetString("phone")
	if phone == "" {
		fmt.Println("Error: --phone is required")
		os.Exit(1)
	}
	name, _ := cmd.Flags().GetString("name")
	priority, _ := cmd.Flags().GetInt("priority")

	body := map[string]interface{}{
		"phoneNumber": phone,
		"name":        name,
		"priority":    priority,
	}
	encoded, _ := json.Marshal(body)

	resp, err := http.Post(fmt.Sprintf("%s/campaigns/%s/contacts", apiHost, args[0]), "application/json", strings.NewReader(string(encoded)))
	if err != nil {
		fmt.Printf("Error reaching API: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		printAPIError(resp)
		return
	}

	var created map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&created)
	fmt.Printf("contact %v enrolled in campaign %s\n", created["contactId"], args[0])
}

func runAction(action string) func(cmd *cobra.Command, args []string) {
	return func(cmd *cobra.Command, args []string) {
		resp, err := http.Post(fmt.Sprintf("%s/campaigns/%s/%s", apiHost, args[0], action), "application/json", nil)
		if err != nil {
			fmt.Printf("Error reaching API: %v\n", err)
			os.Exit(1)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			printAPIError(resp)
			return
		}
		fmt.Printf("campaign %s: %s ok\n", args[0], action)
	}
}

func printAPIError(resp *http.Response) {
	body, _ := io.ReadAll(resp.Body)
	fmt.Printf("API error (%s): %s\n", resp.Status, strings.TrimSpace(string(body)))
	os.Exit(1)
}
