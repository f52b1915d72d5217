package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"

	"github.com/shineum/alertmail-lite/internal/alert"
)

func newSendCommand(rt *runtimeState) *cobra.Command {
	var (
		user      alert.User
		alertType string
		heartRate int
		spo2      float64
		data      map[string]string
		output    string
	)

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send one alert email and print the delivery result",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := validator.New().Struct(user); err != nil {
				return fmt.Errorf("invalid recipient: %w", err)
			}
			a := alert.Alert{
				Type:      alert.Type(alertType),
				Timestamp: time.Now(),
			}
			if !a.Type.Valid() {
				return fmt.Errorf("unknown alert type %q", alertType)
			}
			if cmd.Flags().Changed("heart-rate") {
				a.HeartRate = &heartRate
			}
			if cmd.Flags().Changed("spo2") {
				a.OxygenSaturation = &spo2
			}
			if len(data) > 0 {
				a.Data = make(map[string]any, len(data))
				for k, v := range data {
					a.Data[k] = v
				}
			}

			deps := newApp(rt.cfg, rt.logger)
			primary, _ := deps.primaryConfig(true)
			if err := deps.svc.UpdateConfiguration(cmd.Context(), primary); err != nil {
				return err
			}
			deps.configureFallbacks(cmd.Context())

			res := deps.svc.SendAlert(cmd.Context(), user, a)
			if err := writeObject(rt.out, output, res); err != nil {
				return err
			}
			if !res.Success {
				return errors.New(res.Message)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&user.Email, "to", "", "recipient email address")
	cmd.Flags().StringVar(&user.Name, "name", "Driver", "recipient name")
	cmd.Flags().StringVar(&user.ID, "user-id", "", "recipient identifier")
	cmd.Flags().StringVar(&alertType, "type", string(alert.Drowsiness), "alert type: drowsiness, vital_signs, system_error, test_email")
	cmd.Flags().IntVar(&heartRate, "heart-rate", 0, "heart rate in BPM")
	cmd.Flags().Float64Var(&spo2, "spo2", 0, "oxygen saturation in percent")
	cmd.Flags().StringToStringVar(&data, "data", nil, "additional alert data as key=value pairs")
	cmd.Flags().StringVarP(&output, "output", "o", "json", "output format: json, yaml")
	_ = cmd.MarkFlagRequired("to")

	return cmd
}
