package sysinfo

import (
	"os"
	"runtime"
	"strconv"
	"strings"
)

type Info struct {
	CPUCount int
	MemoryMB int
	Hostname string
	SiteName string
}

func GetInfo() Info {
	info := Info{
		CPUCount: runtime.NumCPU(),
		MemoryMB: getMemoryMB(),
	}

	info.Hostname, _ = os.Hostname()
	info.SiteName = os.Getenv("WEBSITE_SITE_NAME")

	return info
}

func getMemoryMB() int {
	data, err := os.ReadFile("/proc/meminfo")
	if err != nil {
		return 0
	}

	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, "MemTotal:") {
			fields := strings.Fields(line)
			if len(fields) >= 2 {
				kb, _ := strconv.Atoi(fields[1])
				return kb / 1024 // Convert KB to MB
			}
		}
	}

	return 0
}
