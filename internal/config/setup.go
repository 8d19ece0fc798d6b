package config

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// RunSetupWizard asks the operator for the settings that have no sensible
// default, validates the result and saves it.
func RunSetupWizard(cfg *Config, in io.Reader, out io.Writer) error {
	reader := bufio.NewReader(in)

	fmt.Fprintln(out, "BlazingBarrels server setup")
	fmt.Fprintln(out, "Press enter to keep the value in brackets.")
	fmt.Fprintln(out)

	sd := cfg.GetServerData()
	app := cfg.GetApplicationData()

	fmt.Fprintln(out, "-- Game --")
	sd.Port = promptInt(reader, out, "Game port (UDP)", sd.Port)
	sd.PlayerCap = promptInt(reader, out, "Player cap", sd.PlayerCap)
	sd.WorldRadius = promptInt(reader, out, "World radius", sd.WorldRadius)
	sd.HealthCap = promptInt(reader, out, "Health cap", sd.HealthCap)
	sd.Password = promptString(reader, out, "Server password (blank for none)", sd.Password)

	admins := promptString(reader, out, "Admins (comma separated)", strings.Join(sd.Admins, ","))
	sd.Admins = splitList(admins)

	fmt.Fprintln(out)
	fmt.Fprintln(out, "-- Admin API --")
	app.API.Enabled = promptBool(reader, out, "Enable admin API", app.API.Enabled)
	if app.API.Enabled {
		app.API.Port = promptInt(reader, out, "Admin API port (TCP)", app.API.Port)
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "-- MQTT Telemetry --")
	app.MQTT.Enabled = promptBool(reader, out, "Enable MQTT telemetry", app.MQTT.Enabled)
	if app.MQTT.Enabled {
		app.MQTT.BrokerURL = promptString(reader, out, "Broker host", app.MQTT.BrokerURL)
		app.MQTT.Port = promptInt(reader, out, "Broker port", app.MQTT.Port)
	}

	cfg.SetServerData(sd)
	cfg.SetApplicationData(app)

	result := Validate(cfg)
	if !result.IsValid() {
		fmt.Fprintln(out, "\nConfiguration has errors:")
		for _, e := range result.Errors {
			fmt.Fprintf(out, "  - [%s] %s\n", e.Field, e.Message)
		}
		return fmt.Errorf("configuration validation failed")
	}
	for _, w := range result.Warnings {
		fmt.Fprintf(out, "  warning [%s] %s\n", w.Field, w.Message)
	}

	if err := cfg.Save(); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}
	fmt.Fprintf(out, "\nConfiguration saved to %s\n", cfg.Path())
	return nil
}

func splitList(s string) []string {
	out := []string{}
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func readLine(reader *bufio.Reader) string {
	input, _ := reader.ReadString('\n')
	return strings.TrimSpace(input)
}

func promptString(reader *bufio.Reader, out io.Writer, prompt, defaultVal string) string {
	if defaultVal != "" {
		fmt.Fprintf(out, "  %s [%s]: ", prompt, defaultVal)
	} else {
		fmt.Fprintf(out, "  %s: ", prompt)
	}
	if input := readLine(reader); input != "" {
		return input
	}
	return defaultVal
}

func promptInt(reader *bufio.Reader, out io.Writer, prompt string, defaultVal int) int {
	fmt.Fprintf(out, "  %s [%d]: ", prompt, defaultVal)
	input := readLine(reader)
	if input == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(input)
	if err != nil {
		fmt.Fprintf(out, "    Invalid number, using default: %d\n", defaultVal)
		return defaultVal
	}
	return val
}

func promptBool(reader *bufio.Reader, out io.Writer, prompt string, defaultVal bool) bool {
	defaultStr := "no"
	if defaultVal {
		defaultStr = "yes"
	}
	fmt.Fprintf(out, "  %s [%s]: ", prompt, defaultStr)

	switch strings.ToLower(readLine(reader)) {
	case "":
		return defaultVal
	case "yes", "y", "true", "1":
		return true
	}
	return false
}
