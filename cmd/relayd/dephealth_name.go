package main

import (
	"os"
	"regexp"

	"github.com/bigkaa/relayd/internal/config"
)

var (
	// <deployment>-<replicaset hash>-<pod suffix>
	deploymentPodName = regexp.MustCompile(`^(.+)-[a-z0-9]{6,10}-[a-z0-9]{5}$`)
	// <statefulset>-<ordinal>
	statefulSetPodName = regexp.MustCompile(`^(.+)-[0-9]+$`)
)

// dephealthName — имя вершины графа зависимостей: DEPHEALTH_NAME,
// иначе владелец пода из hostname, иначе RELAY_NODE_ID.
func dephealthName(cfg *config.Config) string {
	if cfg.DephealthName != "" {
		return cfg.DephealthName
	}
	if hostname, err := os.Hostname(); err == nil && hostname != "" {
		return parseOwnerName(hostname)
	}
	return cfg.NodeID
}

// parseOwnerName отрезает от имени пода суффиксы Deployment или StatefulSet.
func parseOwnerName(hostname string) string {
	if m := deploymentPodName.FindStringSubmatch(hostname); m != nil {
		return m[1]
	}
	if m := statefulSetPodName.FindStringSubmatch(hostname); m != nil {
		return m[1]
	}
	return hostname
}
