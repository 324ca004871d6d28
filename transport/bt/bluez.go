package bt

import (
	"fmt"
	"strings"

	"github.com/godbus/dbus/v5"
	"github.com/opd-ai/gamelink/addrbook"
)

const (
	bluezService     = "org.bluez"
	bluezDevice      = "org.bluez.Device1"
	getManagedObject = "org.freedesktop.DBus.ObjectManager.GetManagedObjects"
)

// ManagedObjects is the reply of ObjectManager.GetManagedObjects: object
// path to interface name to properties.
type ManagedObjects map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// ObjectSource fetches BlueZ's object tree.
type ObjectSource interface {
	ManagedObjects() (ManagedObjects, error)
}

type systemBus struct{}

func (systemBus) ManagedObjects() (ManagedObjects, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect system bus: %w", err)
	}
	defer conn.Close()

	var objects ManagedObjects
	call := conn.Object(bluezService, "/").Call(getManagedObject, 0)
	if err := call.Store(&objects); err != nil {
		return nil, fmt.Errorf("list bluez objects: %w", err)
	}
	return objects, nil
}

// BlueZDevices lists paired devices known to the BlueZ daemon.
type BlueZDevices struct {
	// Adapter limits results to one controller, such as "hci0".
	Adapter string
	// Source overrides the system bus.
	Source ObjectSource
}

// KnownDevices implements addrbook.DeviceLister. Unpaired devices and
// devices without a name are skipped. If two devices share a name the
// lowest address wins.
func (b BlueZDevices) KnownDevices() (map[string]string, error) {
	source := b.Source
	if source == nil {
		source = systemBus{}
	}
	objects, err := source.ManagedObjects()
	if err != nil {
		return nil, err
	}

	prefix := ""
	if b.Adapter != "" {
		prefix = "/org/bluez/" + b.Adapter + "/"
	}

	devices := make(map[string]string)
	for path, ifaces := range objects {
		if prefix != "" && !strings.HasPrefix(string(path), prefix) {
			continue
		}
		props, ok := ifaces[bluezDevice]
		if !ok {
			continue
		}
		paired, _ := props["Paired"].Value().(bool)
		name, _ := props["Name"].Value().(string)
		addr, _ := props["Address"].Value().(string)
		addr = strings.ToUpper(addr)
		if !paired || name == "" || !addrbook.IsMAC(addr) {
			continue
		}
		if prev, ok := devices[name]; ok && prev < addr {
			continue
		}
		devices[name] = addr
	}
	return devices, nil
}
