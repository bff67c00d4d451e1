package dockerparse

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseRegular(t *testing.T) {
	pc := Parse("ls -la /srv")
	require.Equal(t, KindRegular, pc.Kind)
}

func TestParseDockerExec(t *testing.T) {
	pc := Parse("docker exec -w /srv -u www-data web ls")
	require.Equal(t, KindDockerExec, pc.Kind)
	require.Len(t, pc.DockerExecs, 1)
	seg := pc.DockerExecs[0]
	require.Equal(t, "web", seg.Container)
	require.Equal(t, "/srv", seg.Workdir)
	require.Equal(t, "www-data", seg.User)
	require.Equal(t, "ls", seg.InnerCommand)
}

func TestParseDockerExecWithEnvAndUnknownFlags(t *testing.T) {
	pc := Parse("docker exec -it -e FOO=bar web sh")
	seg := pc.DockerExecs[0]
	require.Equal(t, "bar", seg.Env["FOO"])
	require.Contains(t, seg.Flags, "-it")
	require.Equal(t, "web", seg.Container)
	require.Equal(t, "sh", seg.InnerCommand)
}

func TestParseDockerRunPassesThrough(t *testing.T) {
	pc := Parse("docker run -d --name web nginx")
	require.Equal(t, KindDockerRun, pc.Kind)
	require.Equal(t, []string{"docker run -d --name web nginx"}, pc.RegularSegments)
}

func TestParseCompoundNeedsContainerContext(t *testing.T) {
	pc := Parse("docker exec -w /app api pwd && ls")
	require.Equal(t, KindCompound, pc.Kind)
	require.True(t, pc.NeedsContainerContext)
	require.Len(t, pc.DockerExecs, 1)
	require.Equal(t, "api", pc.DockerExecs[0].Container)
	require.Equal(t, []string{"ls"}, pc.RegularSegments)
}

func TestParseCompoundAllRegularDoesNotNeedContext(t *testing.T) {
	pc := Parse("cd /tmp && ls")
	require.Equal(t, KindCompound, pc.Kind)
	require.False(t, pc.NeedsContainerContext)
}

func TestParseUnclosedQuoteFallsBackToWhitespace(t *testing.T) {
	pc := Parse(`docker exec web echo "hello`)
	require.Equal(t, KindDockerExec, pc.Kind)
	require.Equal(t, "web", pc.DockerExecs[0].Container)
}
