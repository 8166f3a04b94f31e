package contracts

// EntityType is the closed set of typed entity groupings in a bundle.
type EntityType string

const (
	EntityAccount   EntityType = "account"
	EntityHost      EntityType = "host"
	EntityIP        EntityType = "ip"
	EntityFile      EntityType = "file"
	EntityProcess   EntityType = "process"
	EntityURL       EntityType = "url"
	EntityDNS       EntityType = "dns"
	EntityFileHash  EntityType = "file_hash"
	EntityMailbox   EntityType = "mailbox"
	EntityOther     EntityType = "other"
)

// Entity is a single typed entity extracted from an alert's raw payload.
type Entity struct {
	Type       EntityType     `json:"type"`
	Value      string         `json:"value"`
	Properties map[string]any `json:"properties,omitempty"`
	Confidence float64        `json:"confidence"`
	SourceID   string         `json:"source_id,omitempty"`
}

// EntityBundle groups the entities extracted from one alert by type, plus
// anything the entity parser (out of scope) could not resolve to a typed
// entity.
type EntityBundle struct {
	Accounts    []Entity `json:"accounts,omitempty"`
	Hosts       []Entity `json:"hosts,omitempty"`
	IPs         []Entity `json:"ips,omitempty"`
	Files       []Entity `json:"files,omitempty"`
	Processes   []Entity `json:"processes,omitempty"`
	URLs        []Entity `json:"urls,omitempty"`
	DNS         []Entity `json:"dns,omitempty"`
	FileHashes  []Entity `json:"file_hashes,omitempty"`
	Mailboxes   []Entity `json:"mailboxes,omitempty"`
	Other       []Entity `json:"other,omitempty"`
	RawIOCs     []string `json:"raw_iocs,omitempty"`
	ParseErrors []string `json:"parse_errors,omitempty"`
}

// ByType returns the slice of entities belonging to t. Any type without its
// own slice, including Other, returns the Other slice. The result is nil
// when the bundle holds no entities of that group.
func (b EntityBundle) ByType(t EntityType) []Entity {
	switch t {
	case EntityAccount:
		return b.Accounts
	case EntityHost:
		return b.Hosts
	case EntityIP:
		return b.IPs
	case EntityFile:
		return b.Files
	case EntityProcess:
		return b.Processes
	case EntityURL:
		return b.URLs
	case EntityDNS:
		return b.DNS
	case EntityFileHash:
		return b.FileHashes
	case EntityMailbox:
		return b.Mailboxes
	default:
		return b.Other
	}
}

// All returns every entity in the bundle, flattened, in a stable type order.
func (b EntityBundle) All() []Entity {
	out := make([]Entity, 0, len(b.Accounts)+len(b.Hosts)+len(b.IPs)+len(b.Files)+
		len(b.Processes)+len(b.URLs)+len(b.DNS)+len(b.FileHashes)+len(b.Mailboxes)+len(b.Other))
	out = append(out, b.Accounts...)
	out = append(out, b.Hosts...)
	out = append(out, b.IPs...)
	out = append(out, b.Files...)
	out = append(out, b.Processes...)
	out = append(out, b.URLs...)
	out = append(out, b.DNS...)
	out = append(out, b.FileHashes...)
	out = append(out, b.Mailboxes...)
	out = append(out, b.Other...)
	return out
}
