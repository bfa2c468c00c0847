// Package sys provides methods to read system information
/*
 * Copyright (c) 2018-2021, NVIDIA CORPORATION. All rights reserved.
 */
package sys

import (
	"bufio"
	"errors"
	"os"
	"runtime"
	"strconv"
	"strings"
)

const (
	rootProcess     = "/proc/1/cgroup"
	contCPULimit    = "/sys/fs/cgroup/cpu/cpu.cfs_quota_us"
	contCPUPeriod   = "/sys/fs/cgroup/cpu/cpu.cfs_period_us"
	hostLoadAvgPath = "/proc/loadavg"
)

func readLines(path string, each func(line string) bool) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	s := bufio.NewScanner(f)
	for s.Scan() {
		if !each(s.Text()) {
			break
		}
	}
	return s.Err()
}

func readOneInt64(path string) (int64, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(strings.TrimSpace(string(b)), 10, 64)
}

// isContainerized returns true if the application is running
// inside a container (docker/lxc/k8s)
//
// How to detect being inside a container:
// https://stackoverflow.com/questions/20010199/how-to-determine-if-a-process-runs-inside-lxc-docker
func isContainerized() (yes bool) {
	// a missing rootProcess (non-Linux, or no cgroup v1 hierarchy) is not
	// an error here, just "not containerized".
	_ = readLines(rootProcess, func(line string) bool {
		if strings.Contains(line, "docker") || strings.Contains(line, "lxc") || strings.Contains(line, "kube") {
			yes = true
			return false
		}
		return true
	})
	return
}

// containerNumCPU returns an approximate number of CPUs allocated for the
// container. By default, a container runs without limits and its
// cfs_quota_us is negative (-1). When a container starts with limited CPU
// usage its quota is between 0.01 CPU and the number of CPUs on the host
// machine. The function rounds up the calculated number.
func containerNumCPU() (int, error) {
	quotaInt, err := readOneInt64(contCPULimit)
	if err != nil {
		return 0, err
	}
	// negative quota means 'unlimited' - all hardware CPUs are used
	if quotaInt <= 0 {
		return runtime.NumCPU(), nil
	}
	period, err := readOneInt64(contCPUPeriod)
	if err != nil {
		return 0, err
	}
	if period <= 0 {
		return 0, errors.New("failed to read container CPU info")
	}
	approx := (quotaInt + period - 1) / period
	if approx < 1 {
		approx = 1
	}
	return int(approx), nil
}

// LoadAverage returns the system load average.
func LoadAverage() (avg LoadAvg, err error) {
	b, err := os.ReadFile(hostLoadAvgPath)
	if err != nil {
		return avg, err
	}
	fields := strings.Fields(string(b))
	if len(fields) < 3 {
		return avg, errors.New("sys: unexpected /proc/loadavg format")
	}
	avg.One, err = strconv.ParseFloat(fields[0], 64)
	if err == nil {
		avg.Five, err = strconv.ParseFloat(fields[1], 64)
	}
	if err == nil {
		avg.Fifteen, err = strconv.ParseFloat(fields[2], 64)
	}
	return avg, err
}
