package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/dkeye/confrelay/internal/core"
)

var conferencesCmd = &cobra.Command{
	Use:   "conferences",
	Short: "List the conferences of a running relay",
	RunE: func(cmd *cobra.Command, _ []string) error {
		url, _ := cmd.Flags().GetString("url")
		list, err := fetchConferences(cmd, url)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), conferenceTable(list))
		return nil
	},
}

func init() {
	conferencesCmd.Flags().String("url", "http://127.0.0.1:8080", "base URL of the relay HTTP API")
}

func fetchConferences(cmd *cobra.Command, base string) ([]core.ConferenceInfo, error) {
	client := &http.Client{Timeout: 5 * time.Second}
	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, base+"/api/conferences", nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query relay: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("query relay: %s", resp.Status)
	}
	var list []core.ConferenceInfo
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("decode conferences: %w", err)
	}
	return list, nil
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

func conferenceTable(list []core.ConferenceInfo) string {
	if len(list) == 0 {
		return mutedStyle.Render("No conferences")
	}
	rows := make([][]string, 0, len(list))
	for _, c := range list {
		rows = append(rows, []string{
			c.ID.String(),
			c.State,
			strconv.Itoa(c.MemberCount),
			string(c.Admin),
			c.CreatedAt.Format(time.DateTime),
		})
	}
	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers("ID", "State", "Members", "Admin", "Created").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Render()
}
