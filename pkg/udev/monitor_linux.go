package udev

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/pilebones/go-udev/netlink"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Monitor subscribes to udev processed events and calls onChange whenever a
// whole disk is added or removed. It blocks until ctx is done. rulesFile
// optionally points to a JSON netlink rule set narrowing the events.
func Monitor(ctx context.Context, rulesFile string, onChange func(Change)) error {
	logrus.Infoln("Start monitoring udev processed events")

	matcher, err := getOptionalMatcher(rulesFile)
	if err != nil {
		return errors.Wrap(err, "failed to get udev config")
	}

	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		return errors.Wrap(err, "unable to connect to Netlink Kobject UEvent socket")
	}
	defer conn.Close()

	uqueue := make(chan netlink.UEvent)
	errs := make(chan error)
	quit := conn.Monitor(uqueue, errs, matcher)

	for {
		select {
		case uevent := <-uqueue:
			if change, ok := ActionHandler(uevent); ok {
				onChange(change)
			}
		case err := <-errs:
			logrus.Errorf("failed to parse udev event, error: %s", err.Error())
		case <-ctx.Done():
			close(quit)
			return nil
		}
	}
}

// ActionHandler turns a uevent into a Change. Partitions and non-USB disks
// are ignored, as is every action other than add and remove.
func ActionHandler(uevent netlink.UEvent) (Change, bool) {
	udevDevice := InitUdevDevice(uevent.Env)
	if !udevDevice.IsDisk() || !udevDevice.IsUSB() {
		return Change{}, false
	}

	switch uevent.Action {
	case netlink.ADD, netlink.REMOVE:
		logrus.WithFields(logrus.Fields{
			"action": string(uevent.Action),
			"device": udevDevice.GetDevName(),
		}).Debug("uevent for usb disk")
		return Change{
			Action:  string(uevent.Action),
			DevPath: udevDevice.GetDevName(),
			Model:   udevDevice.GetModel(),
		}, true
	default:
		return Change{}, false
	}
}

// getOptionalMatcher Parse and load config file which contains rules for matching
func getOptionalMatcher(filePath string) (matcher netlink.Matcher, err error) {
	if filePath == "" {
		return nil, nil
	}

	stream, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	if len(stream) == 0 {
		return nil, fmt.Errorf("empty, no rules provided in \"%s\"", filePath)
	}

	var rules netlink.RuleDefinitions
	if err := json.Unmarshal(stream, &rules); err != nil {
		return nil, fmt.Errorf("wrong rule syntax, err: %w", err)
	}

	return &rules, nil
}
