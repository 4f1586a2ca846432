package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/seliel/aria/internal/alarm"
)

var (
	alarmAddTime      string
	alarmAddMessage   string
	alarmAddRecurring bool
)

var alarmCmd = &cobra.Command{
	Use:   "alarm",
	Short: "Manage wake-up alarms",
	Long: `Alarms fire during a running session: at the configured time the
companion wakes the user with the alarm message.

Examples:
  aria alarm add standup --time 09:25 --message "daily standup" --recurring
  aria alarm list
  aria alarm remove standup`,
}

var alarmListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured alarms",
	Args:  cobra.NoArgs,
	RunE:  runAlarmList,
}

var alarmAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add an alarm",
	Args:  cobra.ExactArgs(1),
	RunE:  runAlarmAdd,
}

var alarmRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove an alarm",
	Args:  cobra.ExactArgs(1),
	RunE:  runAlarmRemove,
}

func init() {
	alarmAddCmd.Flags().StringVarP(&alarmAddTime, "time", "t", "", "time of day, HH:MM (required)")
	alarmAddCmd.Flags().StringVarP(&alarmAddMessage, "message", "m", "", "what the companion says")
	alarmAddCmd.Flags().BoolVarP(&alarmAddRecurring, "recurring", "r", false, "fire every day instead of once")
	_ = alarmAddCmd.MarkFlagRequired("time")

	alarmCmd.AddCommand(alarmListCmd)
	alarmCmd.AddCommand(alarmAddCmd)
	alarmCmd.AddCommand(alarmRemoveCmd)
}

func openAlarms() (*alarm.Scheduler, error) {
	s, err := alarm.Load(cfg.Path("alarms.json"), nil)
	if err != nil {
		return nil, fmt.Errorf("load alarms: %w", err)
	}
	return s, nil
}

func runAlarmList(cmd *cobra.Command, args []string) error {
	scheduler, err := openAlarms()
	if err != nil {
		return err
	}

	alarms := scheduler.List()
	if len(alarms) == 0 {
		fmt.Println("No alarms configured.")
		return nil
	}
	for _, a := range alarms {
		state := "on"
		if !a.Enabled {
			state = "off"
		}
		kind := "once"
		if a.Recurring {
			kind = "daily"
		}
		fmt.Printf("%s  %-5s %-4s %-12s %s\n", a.Time, kind, state, a.Name, a.Message)
	}
	return nil
}

func runAlarmAdd(cmd *cobra.Command, args []string) error {
	scheduler, err := openAlarms()
	if err != nil {
		return err
	}

	a := alarm.Alarm{
		Name:      args[0],
		Time:      alarmAddTime,
		Message:   alarmAddMessage,
		Recurring: alarmAddRecurring,
	}
	if err := scheduler.Add(a); err != nil {
		return err
	}
	fmt.Printf("Added alarm %q at %s.\n", a.Name, a.Time)
	return nil
}

func runAlarmRemove(cmd *cobra.Command, args []string) error {
	scheduler, err := openAlarms()
	if err != nil {
		return err
	}

	if err := scheduler.Remove(args[0]); err != nil {
		return err
	}
	fmt.Printf("Removed alarm %q.\n", args[0])
	return nil
}
