package translator

import (
	corev1 "k8s.io/api/core/v1"

	"github.com/apsviz/workflow-supervisor/pkg/types"
)

// initScriptVolume is one config-map-backed mount attached to a
// server-process pod: an init script, a syslog config, or similar
// bootstrap data that ships with the cluster, not the database (spec
// §4.D.6, §9: "embed it as a literal lookup table keyed by job-type
// family").
type initScriptVolume struct {
	ConfigMapName string
	SubPath       string
	MountPath     string
}

// serverInitVolumes is the fixed table of config-map volumes mounted by
// each server-process job-type family. Job types absent from this table
// get no additional config-map mounts.
var serverInitVolumes = map[types.JobType][]initScriptVolume{
	"pgsql-server": {
		{ConfigMapName: "supervisor-init-scripts", SubPath: "pgsql-init.sh", MountPath: "/docker-entrypoint-initdb.d/init.sh"},
		{ConfigMapName: "supervisor-syslog-config", SubPath: "pgsql-rsyslog.conf", MountPath: "/etc/rsyslog.d/pgsql.conf"},
	},
	"geo-server": {
		{ConfigMapName: "supervisor-init-scripts", SubPath: "geoserver-init.sh", MountPath: "/docker-entrypoint-initdb.d/init.sh"},
	},
	"thredds-server": {
		{ConfigMapName: "supervisor-init-scripts", SubPath: "thredds-init.sh", MountPath: "/usr/local/tomcat/init.sh"},
		{ConfigMapName: "supervisor-syslog-config", SubPath: "thredds-rsyslog.conf", MountPath: "/etc/rsyslog.d/thredds.conf"},
	},
}

// serverEnv is the fixed table of step-type-specific environment
// variables injected into a server-process pod (spec §4.D.6): DB
// credentials, and the DB host, which is the sibling DB step's generated
// job name within the same run.
func serverEnv(jobType types.JobType, dbJobName string, secretEnv []corev1.EnvVar) []corev1.EnvVar {
	switch jobType {
	case "geo-server", "thredds-server":
		env := append([]corev1.EnvVar{}, secretEnv...)
		if dbJobName != "" {
			env = append(env, corev1.EnvVar{Name: "DB_HOST", Value: dbJobName})
		}
		return env
	default:
		return secretEnv
	}
}
