// Package reconciler implements the lifecycle of Pangolin resources declared
// by PangolinIngress objects.
//
// The Engine is level-triggered. Remote state is never cached: every delete
// lists Pangolin and selects resources by the "k8s.po-" name tag and the full
// domain. A finalizer is added before any remote create and removed only after
// remote cleanup succeeded. Every attempt ends with a status write, so a
// failure is visible on the object before it is returned.
package reconciler
