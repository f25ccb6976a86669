package sci

import "fmt"

// Target is an addressing expression selecting the devices an SCI request
// is relayed to. Implementations are immutable value types whose only job
// is rendering their own addressing fragment.
type Target interface {
	XML() string
}

// DeviceTarget addresses a single device by its device id.
type DeviceTarget struct {
	ID string
}

func (t DeviceTarget) XML() string {
	return fmt.Sprintf(`<device id="%s"/>`, t.ID)
}

// AllTarget broadcasts to every device in the account.
type AllTarget struct{}

func (AllTarget) XML() string {
	return `<device id="all"/>`
}

// TagTarget addresses all devices carrying a specific tag.
type TagTarget struct {
	Tag string
}

func (t TagTarget) XML() string {
	return fmt.Sprintf(`<device tag="%s"/>`, t.Tag)
}

// GroupTarget addresses all devices in a specific group.
type GroupTarget struct {
	Path string
}

func (t GroupTarget) XML() string {
	return fmt.Sprintf(`<group path="%s"/>`, t.Path)
}
