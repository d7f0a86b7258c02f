package translator

import (
	"fmt"
	"path"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/apsviz/workflow-supervisor/pkg/catalog"
	"github.com/apsviz/workflow-supervisor/pkg/run"
	"github.com/apsviz/workflow-supervisor/pkg/types"
)

// buildVolumes constructs every volume and mount for one step: the
// shared data PVC always, and conditionally the DB shm tmpfs, the
// FILESVR_* comma-lists, the NFS share, and the config-map-backed init
// scripts (spec §4.D.3, §4.D.6).
func (t *Translator) buildVolumes(r *run.Run, jobType types.JobType, tmpl *catalog.StepTemplate) ([]corev1.Volume, []corev1.VolumeMount, error) {
	var volumes []corev1.Volume
	var mounts []corev1.VolumeMount

	dataVolName := fmt.Sprintf("%s-%s", tmpl.DataVolumeName, r.ID.String())
	volumes = append(volumes, corev1.Volume{
		Name: dataVolName,
		VolumeSource: corev1.VolumeSource{
			PersistentVolumeClaim: &corev1.PersistentVolumeClaimVolumeSource{ClaimName: t.cfg.DataPVCClaim},
		},
	})
	subPath := tmpl.SubPath
	if subPath != "" {
		subPath = path.Join(subPath, r.ID.String())
	}
	mounts = append(mounts, corev1.VolumeMount{Name: dataVolName, MountPath: tmpl.DataMountPath, SubPath: subPath})

	if tmpl.IsServerProcess() && isDBFamily(jobType) {
		shmQty, err := resource.ParseQuantity(secretsVolumeSize)
		if err != nil {
			return nil, nil, fmt.Errorf("parsing shm volume size: %w", err)
		}
		volumes = append(volumes, corev1.Volume{
			Name: "dshm",
			VolumeSource: corev1.VolumeSource{
				EmptyDir: &corev1.EmptyDirVolumeSource{Medium: corev1.StorageMediumMemory, SizeLimit: &shmQty},
			},
		})
		mounts = append(mounts, corev1.VolumeMount{Name: "dshm", MountPath: "/dev/shm"})
	}

	for i, name := range tmpl.FileServerVolumeName {
		if i >= len(tmpl.FileServerVolumeSize) || i >= len(tmpl.FileServerMountPath) {
			return nil, nil, fmt.Errorf("FILESVR_* columns have mismatched lengths for job type %s", jobType)
		}
		size := tmpl.FileServerVolumeSize[i]
		mountPath := tmpl.FileServerMountPath[i]
		volName := fmt.Sprintf("filesvr-%d-%s", i, r.ID.String())

		if size == "0" {
			volumes = append(volumes, corev1.Volume{
				Name:         volName,
				VolumeSource: corev1.VolumeSource{PersistentVolumeClaim: &corev1.PersistentVolumeClaimVolumeSource{ClaimName: name}},
			})
		} else {
			qty, err := resource.ParseQuantity(size)
			if err != nil {
				return nil, nil, fmt.Errorf("parsing FILESVR_VOLUME_SIZE %q: %w", size, err)
			}
			claimName := fmt.Sprintf("%s-%s", name, r.ID.String())
			accessMode := corev1.ReadWriteOnce
			volumes = append(volumes, corev1.Volume{
				Name: volName,
				VolumeSource: corev1.VolumeSource{
					Ephemeral: &corev1.EphemeralVolumeSource{
						VolumeClaimTemplate: &corev1.PersistentVolumeClaimTemplate{
							ObjectMeta: metav1.ObjectMeta{Name: claimName},
							Spec: corev1.PersistentVolumeClaimSpec{
								AccessModes: []corev1.PersistentVolumeAccessMode{accessMode},
								Resources: corev1.VolumeResourceRequirements{
									Requests: corev1.ResourceList{corev1.ResourceStorage: qty},
								},
							},
						},
					},
				},
			})
		}
		mounts = append(mounts, corev1.VolumeMount{Name: volName, MountPath: mountPath})
	}

	if tmpl.IsServerProcess() && t.cfg.NFSServer != "" {
		volumes = append(volumes, corev1.Volume{
			Name:         "nfs-share",
			VolumeSource: corev1.VolumeSource{NFS: &corev1.NFSVolumeSource{Server: t.cfg.NFSServer, Path: t.cfg.NFSPath}},
		})
		mounts = append(mounts, corev1.VolumeMount{Name: "nfs-share", MountPath: t.cfg.NFSMountPath})
	}

	for i, entry := range serverInitVolumes[jobType] {
		volName := fmt.Sprintf("init-%d", i)
		volumes = append(volumes, corev1.Volume{
			Name: volName,
			VolumeSource: corev1.VolumeSource{
				ConfigMap: &corev1.ConfigMapVolumeSource{LocalObjectReference: corev1.LocalObjectReference{Name: entry.ConfigMapName}},
			},
		})
		mounts = append(mounts, corev1.VolumeMount{Name: volName, MountPath: entry.MountPath, SubPath: entry.SubPath})
	}

	return volumes, mounts, nil
}
