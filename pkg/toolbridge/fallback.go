package toolbridge

type fallbackTool struct {
	name        string
	description string
	args        []string
}

// fallbackCatalog lists the tools of the Linux MCP server, used when the peer cannot be asked.
var fallbackCatalog = []fallbackTool{
	{"get_system_information", "Basic system info (OS, kernel, hostname, uptime).", nil},
	{"get_cpu_information", "CPU info, cores, load.", nil},
	{"get_memory_information", "RAM and swap usage.", nil},
	{"get_disk_usage", "Filesystem usage and mount points.", nil},
	{"get_hardware_information", "Hardware (CPU arch, PCI, USB).", nil},
	{"list_services", "All systemd services and status.", nil},
	{"get_service_status", "Status of a systemd service. Args: service_name.", []string{"service_name"}},
	{"get_service_logs", "Recent logs for a service. Args: service_name, lines (optional).", []string{"service_name", "lines"}},
	{"list_processes", "Running processes by CPU usage.", nil},
	{"get_process_info", "Details for a process. Args: pid.", []string{"pid"}},
	{"get_journal_logs", "Systemd journal. Args: unit, priority, since, lines (optional).", []string{"unit", "priority", "since", "lines"}},
	{"get_audit_logs", "Audit logs. Args: lines (optional).", []string{"lines"}},
	{"read_log_file", "Read a log file. Args: log_path, lines (optional).", []string{"log_path", "lines"}},
	{"get_network_interfaces", "Network interfaces and IPs.", nil},
	{"get_network_connections", "Active network connections.", nil},
	{"get_listening_ports", "Listening ports.", nil},
	{"list_block_devices", "Block devices and I/O.", nil},
	{"list_directories", "List dirs under path. Args: path, order_by, sort, top_n (optional).", []string{"path", "order_by", "sort", "top_n"}},
	{"list_files", "List files under path. Args: path, order_by, sort, top_n (optional).", []string{"path", "order_by", "sort", "top_n"}},
	{"read_file", "Read a file. Args: path, lines (optional).", []string{"path", "lines"}},
}

var integerArgs = map[string]bool{
	"lines": true,
	"pid":   true,
	"top_n": true,
}

// schema accepts any object, typing the optional host and the arguments named in the
// description so that string values from the command line are coerced.
func (f fallbackTool) schema() map[string]any {
	props := map[string]any{
		"host": map[string]any{"type": "string"},
	}
	for _, arg := range f.args {
		typ := "string"
		if integerArgs[arg] {
			typ = "integer"
		}
		props[arg] = map[string]any{"type": typ}
	}

	return map[string]any{
		"type":                 "object",
		"properties":           props,
		"additionalProperties": true,
	}
}
