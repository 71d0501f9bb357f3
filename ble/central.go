package ble

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/muka/go-bluetooth/bluez"
	"github.com/muka/go-bluetooth/bluez/profile/gatt"
	"github.com/sirupsen/logrus"
	"tinygo.org/x/bluetooth"
)

var log = logrus.WithField("component", "ble")

// BLE UUIDs matching the camera firmware
var (
	ServiceUUID      = bluetooth.NewUUID([16]byte{0xfb, 0x34, 0x9b, 0x5f, 0x80, 0x00, 0x00, 0x80, 0x00, 0x10, 0x00, 0x00, 0xc0, 0xc0, 0x00, 0x00})
	KeypointCharUUID = bluetooth.NewUUID([16]byte{0xfb, 0x34, 0x9b, 0x5f, 0x80, 0x00, 0x00, 0x80, 0x00, 0x10, 0x00, 0x00, 0xc1, 0xc0, 0x00, 0x00})
)

// DefaultDeviceName is the advertised name of the camera node.
const DefaultDeviceName = "CurlCam"

// Standard big-endian UUID strings as BlueZ returns them in GetManagedObjects.
// bluetooth.UUID.String() outputs little-endian bytes and does NOT match these.
const (
	serviceUUIDStr      = "0000c0c0-0000-1000-8000-00805f9b34fb"
	keypointCharUUIDStr = "0000c0c1-0000-1000-8000-00805f9b34fb"
)

const gattResolveTimeout = 15 * time.Second

// CameraConnection represents the connected camera node.
type CameraConnection struct {
	Name         string
	Device       *bluetooth.Device
	Address      bluetooth.Address
	KeypointChar *gatt.GattCharacteristic1
	PropCh       chan *bluez.PropertyChanged
	Connected    bool
	LastSeq      uint16
	Received     uint64
	Dropped      uint64

	gone chan struct{}
}

// FrameHandler is called for every keypoint frame received.
type FrameHandler func(frame *Frame)

// ConnectionHandler is called when the camera connects or drops.
type ConnectionHandler func(connected bool)

// Central manages the BLE connection to one camera node.
type Central struct {
	adapter    *bluetooth.Adapter
	deviceName string
	mu         sync.RWMutex

	camera *CameraConnection

	onFrame      FrameHandler
	onConnection ConnectionHandler
	scanning     bool
}

// NewCentral creates a BLE central that connects to the camera advertising
// deviceName.
func NewCentral(deviceName string) *Central {
	if deviceName == "" {
		deviceName = DefaultDeviceName
	}
	return &Central{
		adapter:    bluetooth.DefaultAdapter,
		deviceName: deviceName,
	}
}

// DeviceName returns the advertised name the central looks for.
func (c *Central) DeviceName() string {
	return c.deviceName
}

// SetFrameHandler sets the callback for incoming keypoint frames.
func (c *Central) SetFrameHandler(handler FrameHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onFrame = handler
}

// SetConnectionHandler sets the callback for connect and disconnect events.
func (c *Central) SetConnectionHandler(handler ConnectionHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnection = handler
}

// Enable initializes the BLE adapter.
func (c *Central) Enable() error {
	log.Info("enabling adapter")
	if err := c.adapter.Enable(); err != nil {
		return fmt.Errorf("failed to enable BLE adapter: %w", err)
	}
	log.Info("adapter enabled")
	return nil
}

// Camera returns a copy of the current connection, or nil.
func (c *Central) Camera() *CameraConnection {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.camera == nil {
		return nil
	}
	cp := *c.camera
	return &cp
}

// IsConnected returns true if the camera is connected.
func (c *Central) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.camera != nil && c.camera.Connected
}

// handleNotification parses one notification and tracks frame loss.
func (c *Central) handleNotification(data []byte) {
	frame, err := ParseFrame(data)
	if err != nil {
		log.WithError(err).Debug("dropping malformed notification")
		return
	}

	c.mu.Lock()
	if cam := c.camera; cam != nil {
		if cam.Received > 0 {
			expected := cam.LastSeq + 1
			if missed := frame.Sequence - expected; missed > 0 && missed < 100 {
				cam.Dropped += uint64(missed)
			}
		}
		cam.LastSeq = frame.Sequence
		cam.Received++
	}
	handler := c.onFrame
	c.mu.Unlock()

	if handler != nil {
		handler(frame)
	}
}

// devicePath derives the BlueZ D-Bus object path from a MAC address,
// e.g. "D4:E9:F4:E2:B5:8A" → "/org/bluez/hci0/dev_D4_E9_F4_E2_B5_8A".
func devicePath(mac string) string {
	return "/org/bluez/hci0/dev_" + strings.ReplaceAll(strings.ToUpper(mac), ":", "_")
}

// waitForServicesResolved blocks until BlueZ reports ServicesResolved = true
// for the given device address, or until the timeout expires.
//
// BlueZ performs GATT service discovery asynchronously after the ACL connection
// is established. Polling for services before ServicesResolved flips yields an
// empty list even on success.
func waitForServicesResolved(addr bluetooth.Address, timeout time.Duration) error {
	devPath := dbus.ObjectPath(devicePath(addr.String()))

	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return fmt.Errorf("dbus: %w", err)
	}
	defer conn.Close()

	obj := conn.Object("org.bluez", devPath)

	// Fast path: already resolved (e.g. reconnect after prior session).
	v, err := obj.GetProperty("org.bluez.Device1.ServicesResolved")
	if err == nil {
		if resolved, ok := v.Value().(bool); ok && resolved {
			return nil
		}
	}

	ch, err := deviceSignals(conn, devPath)
	if err != nil {
		return err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case sig, ok := <-ch:
			if !ok {
				return fmt.Errorf("dbus signal channel closed")
			}
			if v, ok := changedDeviceProperty(sig, "ServicesResolved"); ok && v {
				return nil
			}
		case <-timer.C:
			return fmt.Errorf("timeout waiting for ServicesResolved")
		}
	}
}

// watchDisconnect calls onGone once BlueZ reports Connected = false for the
// device. It returns when that happens or when stop is closed.
func watchDisconnect(addr bluetooth.Address, stop <-chan struct{}, onGone func()) {
	devPath := dbus.ObjectPath(devicePath(addr.String()))

	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		log.WithError(err).Warn("cannot watch for disconnect")
		return
	}
	defer conn.Close()

	ch, err := deviceSignals(conn, devPath)
	if err != nil {
		log.WithError(err).Warn("cannot watch for disconnect")
		return
	}

	for {
		select {
		case <-stop:
			return
		case sig, ok := <-ch:
			if !ok {
				return
			}
			if v, ok := changedDeviceProperty(sig, "Connected"); ok && !v {
				onGone()
				return
			}
		}
	}
}

// deviceSignals subscribes to PropertiesChanged on one device object.
func deviceSignals(conn *dbus.Conn, devPath dbus.ObjectPath) (chan *dbus.Signal, error) {
	if err := conn.AddMatchSignal(
		dbus.WithMatchInterface("org.freedesktop.DBus.Properties"),
		dbus.WithMatchMember("PropertiesChanged"),
		dbus.WithMatchObjectPath(devPath),
	); err != nil {
		return nil, fmt.Errorf("dbus match: %w", err)
	}
	ch := make(chan *dbus.Signal, 16)
	conn.Signal(ch)
	return ch, nil
}

// changedDeviceProperty extracts a boolean org.bluez.Device1 property from a
// PropertiesChanged signal.
func changedDeviceProperty(sig *dbus.Signal, name string) (value, ok bool) {
	if sig == nil || len(sig.Body) < 2 {
		return false, false
	}
	iface, ok := sig.Body[0].(string)
	if !ok || iface != "org.bluez.Device1" {
		return false, false
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return false, false
	}
	v, ok := changed[name]
	if !ok {
		return false, false
	}
	value, ok = v.Value().(bool)
	return value, ok
}

// discoverGATT opens a fresh D-Bus connection and calls GetManagedObjects
// directly on org.bluez, bypassing the go-bluetooth singleton ObjectManager
// which can return a stale view of the GATT object tree.
func discoverGATT(addr bluetooth.Address, serviceUUID, charUUID string) (*gatt.GattCharacteristic1, error) {
	devPath := devicePath(addr.String())

	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("dbus connect: %w", err)
	}
	defer conn.Close()

	obj := conn.Object("org.bluez", "/")
	var managed map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	if err := obj.Call("org.freedesktop.DBus.ObjectManager.GetManagedObjects", 0).Store(&managed); err != nil {
		return nil, fmt.Errorf("GetManagedObjects: %w", err)
	}
	log.WithField("objects", len(managed)).Debug("GetManagedObjects returned")

	servicePath := findChild(managed, devPath, "service", "org.bluez.GattService1", serviceUUID)
	if servicePath == "" {
		for path := range managed {
			if strings.HasPrefix(string(path), devPath) {
				log.WithField("path", path).Debug("object under device")
			}
		}
		return nil, fmt.Errorf("service %s not found on %s", serviceUUID, devPath)
	}

	charPath := findChild(managed, servicePath, "char", "org.bluez.GattCharacteristic1", charUUID)
	if charPath == "" {
		return nil, fmt.Errorf("characteristic %s not found under %s", charUUID, servicePath)
	}
	log.WithField("path", charPath).Debug("matched keypoint characteristic")

	// The go-bluetooth client is fine for StartNotify and WatchProperties;
	// only its GetManagedObjects view was unreliable.
	char, err := gatt.NewGattCharacteristic1(dbus.ObjectPath(charPath))
	if err != nil {
		return nil, fmt.Errorf("NewGattCharacteristic1(%s): %w", charPath, err)
	}
	return char, nil
}

// findChild returns the object path exactly one level under parent whose
// name starts with kind and whose iface UUID matches uuid.
func findChild(managed map[dbus.ObjectPath]map[string]map[string]dbus.Variant, parent, kind, iface, uuid string) string {
	uuid = strings.ToLower(uuid)
	for path, ifaces := range managed {
		p := string(path)
		if !strings.HasPrefix(p, parent+"/"+kind) {
			continue
		}
		if strings.Contains(p[len(parent)+1:], "/") {
			continue
		}
		props, ok := ifaces[iface]
		if !ok {
			continue
		}
		uuidVar, ok := props["UUID"]
		if !ok {
			continue
		}
		got, ok := uuidVar.Value().(string)
		if ok && strings.ToLower(got) == uuid {
			return p
		}
	}
	return ""
}

// connectToDevice establishes a connection to the discovered camera.
func (c *Central) connectToDevice(result bluetooth.ScanResult) error {
	l := log.WithFields(logrus.Fields{"device": result.LocalName(), "addr": result.Address.String()})
	l.Info("connecting")

	device, err := c.adapter.Connect(result.Address, bluetooth.ConnectionParams{})
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	l.Info("connected, waiting for GATT profile")
	if err := waitForServicesResolved(result.Address, gattResolveTimeout); err != nil {
		device.Disconnect()
		return fmt.Errorf("GATT not resolved on %s: %w", result.LocalName(), err)
	}

	keypointChar, err := discoverGATT(result.Address, serviceUUIDStr, keypointCharUUIDStr)
	if err != nil {
		device.Disconnect()
		return fmt.Errorf("GATT discovery failed on %s: %w", result.LocalName(), err)
	}

	propCh, err := keypointChar.WatchProperties()
	if err != nil {
		device.Disconnect()
		return fmt.Errorf("WatchProperties failed: %w", err)
	}
	if err := keypointChar.StartNotify(); err != nil {
		_ = keypointChar.UnwatchProperties(propCh)
		device.Disconnect()
		return fmt.Errorf("StartNotify failed: %w", err)
	}

	cam := &CameraConnection{
		Name:         result.LocalName(),
		Device:       device,
		Address:      result.Address,
		KeypointChar: keypointChar,
		PropCh:       propCh,
		Connected:    true,
		gone:         make(chan struct{}),
	}

	c.mu.Lock()
	c.camera = cam
	onConn := c.onConnection
	c.mu.Unlock()

	go func() {
		for update := range propCh {
			if update == nil {
				continue
			}
			if update.Interface == "org.bluez.GattCharacteristic1" && update.Name == "Value" {
				if data, ok := update.Value.([]byte); ok {
					c.handleNotification(data)
				}
			}
		}
	}()
	go watchDisconnect(result.Address, cam.gone, func() {
		l.Warn("camera link lost")
		c.release(cam)
	})

	l.Info("camera connected and streaming")
	if onConn != nil {
		onConn(true)
	}
	return nil
}

// release tears down cam if it is still the current connection and reports
// the disconnect.
func (c *Central) release(cam *CameraConnection) {
	c.mu.Lock()
	if c.camera != cam || !cam.Connected {
		c.mu.Unlock()
		return
	}
	cam.Connected = false
	c.camera = nil
	close(cam.gone)
	onConn := c.onConnection
	c.mu.Unlock()

	if cam.KeypointChar != nil {
		_ = cam.KeypointChar.StopNotify()
		if cam.PropCh != nil {
			_ = cam.KeypointChar.UnwatchProperties(cam.PropCh)
		}
	}
	if onConn != nil {
		onConn(false)
	}
}

// StartScanning begins scanning for the camera. The scan stops on its own
// once the camera is connected.
func (c *Central) StartScanning() error {
	c.mu.Lock()
	if c.scanning {
		c.mu.Unlock()
		return nil
	}
	c.scanning = true
	c.mu.Unlock()

	log.WithField("device", c.deviceName).Info("scanning")

	go func() {
		err := c.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
			if result.LocalName() != c.deviceName || c.IsConnected() {
				return
			}
			log.WithField("addr", result.Address.String()).Info("found camera")

			// Connecting while scanning is unreliable on BlueZ.
			adapter.StopScan()
			if err := c.connectToDevice(result); err != nil {
				log.WithError(err).Warn("connect failed")
			}
		})
		if err != nil {
			log.WithError(err).Warn("scan error")
		}

		c.mu.Lock()
		c.scanning = false
		c.mu.Unlock()
	}()

	return nil
}

// StopScanning stops the BLE scan.
func (c *Central) StopScanning() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.scanning {
		c.scanning = false
		c.adapter.StopScan()
		log.Info("scan stopped")
	}
}

// Disconnect drops the camera connection, if any.
func (c *Central) Disconnect() error {
	c.mu.RLock()
	cam := c.camera
	c.mu.RUnlock()
	if cam == nil {
		return nil
	}

	c.release(cam)
	if err := cam.Device.Disconnect(); err != nil {
		return fmt.Errorf("failed to disconnect camera: %w", err)
	}
	log.Info("camera disconnected")
	return nil
}
