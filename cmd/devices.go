package main

import (
	"context"
	"fmt"
)

// listDevices prints the capture devices, marking the system default
func listDevices() error {
	a, err := newApp(context.Background())
	if err != nil {
		return err
	}
	defer a.Close()

	if a.devices == nil {
		return fmt.Errorf("audio devices are not available on this system")
	}
	devices, err := a.devices.Devices()
	if err != nil {
		return fmt.Errorf("failed to list devices: %w", err)
	}
	if len(devices) == 0 {
		fmt.Println("No capture devices found")
		return nil
	}
	for _, d := range devices {
		marker := " "
		if d.IsDefault {
			marker = "*"
		}
		fmt.Printf("%s %s\t%s\n", marker, d.Name, d.ID)
	}
	return nil
}
